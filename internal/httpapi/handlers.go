package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/layers"
	"github.com/ironsheep/layersmith/internal/pipeline"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.build.Version,
	})
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, s.build)
}

func badRequest(c *gin.Context, message string, err error) {
	resp := ErrorResponse{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

// createBatch runs an uploaded batch synchronously and answers with the result.
func (s *Server) createBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "expected a multipart form with image files", err)
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		badRequest(c, "no images uploaded", nil)
		return
	}
	if s.upload.MaxFiles > 0 && len(files) > s.upload.MaxFiles {
		badRequest(c, fmt.Sprintf("too many images (max %d)", s.upload.MaxFiles), nil)
		return
	}

	count, err := parseClusters(c.DefaultPostForm("clusters", "0"))
	if err != nil {
		badRequest(c, "invalid cluster count", err)
		return
	}

	// rejected uploads travel with the batch and come back as load failures
	inputs := make([]pipeline.Input, 0, len(files))
	var rejected []error
	for _, fh := range files {
		in, err := s.readUpload(fh)
		if err != nil {
			rejected = append(rejected, fmt.Errorf("%s: %w", fh.Filename, err))
			in = pipeline.Input{Filename: fh.Filename, Err: err}
		}
		inputs = append(inputs, in)
	}
	if len(rejected) == len(inputs) {
		badRequest(c, "no usable images uploaded", errors.Join(rejected...))
		return
	}

	s.logger.Info("batch uploaded",
		zap.Int("images", len(inputs)),
		zap.Int("rejected", len(rejected)),
		zap.Int("clusters", count))

	var res *pipeline.Result
	err = s.admit.Do(c.Request.Context(), func(ctx context.Context) error {
		var err error
		res, err = s.orch.ProcessBatch(ctx, inputs, pipeline.Options{ClusterCount: count})
		return err
	})
	if err != nil && res == nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("batch failed", zap.Error(err))
		}
		c.JSON(status, ErrorResponse{Success: false, Message: "batch could not be processed", Error: err.Error()})
		return
	}

	if errors.Is(err, pipeline.ErrAllItemsFailed) {
		c.JSON(http.StatusUnprocessableEntity, BatchResponse{
			Success: false,
			Message: "every image failed",
			Data:    batchData(res),
		})
		return
	}

	msg := "batch processed"
	if res.Status == pipeline.StatusPartial {
		msg = fmt.Sprintf("batch processed with %d failure(s)", len(res.Failures))
	}
	c.JSON(http.StatusOK, BatchResponse{Success: true, Message: msg, Data: batchData(res)})
}

func parseClusters(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "auto") {
		return layers.AutoCount, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if err := layers.ValidateCount(n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Server) readUpload(fh *multipart.FileHeader) (pipeline.Input, error) {
	if s.upload.MaxSize > 0 && fh.Size > s.upload.MaxSize {
		return pipeline.Input{}, fmt.Errorf("file is %d bytes, limit is %d", fh.Size, s.upload.MaxSize)
	}
	f, err := fh.Open()
	if err != nil {
		return pipeline.Input{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return pipeline.Input{}, err
	}

	ct := fh.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	if !s.isAllowedType(ct) {
		return pipeline.Input{}, fmt.Errorf("unsupported content type %q", ct)
	}
	return pipeline.Input{Filename: fh.Filename, Data: data}, nil
}

func (s *Server) isAllowedType(contentType string) bool {
	if len(s.upload.AllowedTypes) == 0 {
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	return slices.Contains(s.upload.AllowedTypes, ct)
}

// getBatch returns the stored summary of a batch.
func (s *Server) getBatch(c *gin.Context) {
	id := c.Param("id")
	var res pipeline.Result
	if err := s.registry.Load(c.Request.Context(), id, &res); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("failed to load batch summary", zap.String("batch_id", id), zap.Error(err))
		}
		c.JSON(status, ErrorResponse{Success: false, Message: "batch not found", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, BatchResponse{Success: true, Message: "batch found", Data: batchData(&res)})
}

// getArchive streams the zip of a batch.
func (s *Server) getArchive(c *gin.Context) {
	id := c.Param("id")
	p, err := s.store.Path(id)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Success: false, Message: "archive not found", Error: err.Error()})
		return
	}
	c.FileAttachment(p, id+".zip")
}
