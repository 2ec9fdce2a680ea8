package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"uploadsim/internal/upload"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ProgressMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ProgressMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func startBroadcast(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartBroadcast(ctx)
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWebsocket_StreamsSnapshots(t *testing.T) {
	req := require.New(t)
	s, r, machine := newTestServer(t, Options{})
	startBroadcast(t, s)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialWS(t, srv, "/api/v1/ws")
	hello := readMessage(t, conn)
	req.Equal("connected", hello.Type)
	req.Equal(upload.StatusEmpty, hello.Aggregate)

	accepted, err := machine.AcceptFiles("a.csv")
	req.NoError(err)
	msg := readMessage(t, conn)
	req.Equal("snapshot", msg.Type)
	req.Equal(upload.StatusUploading, msg.Aggregate)
	req.Len(msg.Records, 1)
	req.Equal(accepted[0].ID, msg.Records[0].ID)

	machine.Tick()
	msg = readMessage(t, conn)
	req.Equal(10, msg.Records[0].Progress)
	req.Greater(msg.Seq, hello.Seq)
}

func TestWebsocket_PerUploadTopic(t *testing.T) {
	req := require.New(t)
	s, r, machine := newTestServer(t, Options{})
	startBroadcast(t, s)
	srv := httptest.NewServer(r)
	defer srv.Close()

	accepted, err := machine.AcceptFiles("a.csv", "b.csv")
	req.NoError(err)
	target := accepted[1].ID

	conn := dialWS(t, srv, "/api/v1/ws/"+target)
	hello := readMessage(t, conn)
	req.Equal(target, hello.UploadID)
	req.Len(hello.Records, 1)
	req.Equal(target, hello.Records[0].ID)

	_, err = machine.Cancel(target)
	req.NoError(err)

	// Snapshots queued before the greeting may still arrive; skip them.
	for {
		msg := readMessage(t, conn)
		if msg.Seq <= hello.Seq {
			continue
		}
		req.Equal(target, msg.UploadID)
		req.Len(msg.Records, 1)
		req.Equal(upload.StatusFailure, msg.Records[0].Status)
		req.Equal(upload.FailureCancelled, msg.Records[0].Failure)
		return
	}
}

func TestWebsocket_UnknownUpload(t *testing.T) {
	_, r, _ := newTestServer(t, Options{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocket_ShutdownClosesConnections(t *testing.T) {
	s, r, _ := newTestServer(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartBroadcast(ctx)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialWS(t, srv, "/api/v1/ws")
	readMessage(t, conn)
	require.Equal(t, 1, s.conns.Count())

	cancel()
	<-done

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Zero(t, s.conns.Count())
}
