package api

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"uploadsim/internal/upload"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

func (s *Server) acceptHandler(c *gin.Context) {
	var (
		files []upload.File
		err   error
	)
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		files, err = s.readMultipart(c)
	} else {
		var req AcceptRequest
		if err = c.ShouldBindJSON(&req); err != nil {
			err = fmt.Errorf("invalid request: %w", err)
		}
		files = lo.Map(req.Names, func(name string, _ int) upload.File {
			return upload.File{Name: name}
		})
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	accepted, err := s.machine.Accept(files...)
	if err != nil {
		writeError(c, err)
		return
	}
	s.log.Info("Files accepted", "count", len(accepted))

	c.JSON(http.StatusCreated, gin.H{
		"aggregate": s.machine.Aggregate(),
		"uploads":   toResponses(accepted),
	})
}

// readMultipart collects the "files" parts. Content is only sniffed for its
// type and then discarded.
func (s *Server) readMultipart(c *gin.Context) ([]upload.File, error) {
	if err := c.Request.ParseMultipartForm(s.maxMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer c.Request.MultipartForm.RemoveAll()

	headers := c.Request.MultipartForm.File["files"]
	files := make([]upload.File, 0, len(headers))
	for _, fh := range headers {
		contentType, err := sniff(fh)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, upload.File{
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: contentType,
		})
	}
	return files, nil
}

func sniff(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	return mtype.String(), nil
}

func (s *Server) listHandler(c *gin.Context) {
	c.JSON(http.StatusOK, toSnapshotResponse(s.machine.Snapshot()))
}

func (s *Server) getHandler(c *gin.Context) {
	rec, err := s.machine.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(rec))
}

func (s *Server) cancelHandler(c *gin.Context) {
	rec, err := s.machine.Cancel(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(rec))
}

func (s *Server) retryHandler(c *gin.Context) {
	rec, err := s.machine.Retry(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(rec))
}

func (s *Server) resetHandler(c *gin.Context) {
	if err := s.machine.ResetAll(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSnapshotResponse(s.machine.Snapshot()))
}

// fileDetailsHandler backs the "view details" link of a record.
func (s *Server) fileDetailsHandler(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	records := s.machine.FindByName(name)
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    name,
		"uploads": toResponses(records),
		"count":   len(records),
	})
}
