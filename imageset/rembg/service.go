package rembg

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	nhttp "github.com/chaos-io/eolian/util/http"
)

const removePath = "api/remove"

// Service sends images to a matting server over HTTP.
type Service struct {
	endpoint string
	params   Params
	timeout  time.Duration
	cli      nhttp.IClient
}

func NewService(endpoint string, params Params, timeout time.Duration, cli nhttp.IClient) *Service {
	return &Service{
		endpoint: strings.TrimSuffix(endpoint, "/") + "/",
		params:   params,
		timeout:  timeout,
		cli:      cli,
	}
}

type removeResp struct {
	Image string `json:"image"`
}

/*
	curl -X POST "$ENDPOINT/api/remove" \
	  -F "image=@0001.png" \
	  -F "batch_size_seg=5" -F "batch_size_matting=1" \
	  -F "seg_mask_size=320" -F "matting_mask_size=2048"

{"image": "<base64 png>"}
*/
func (s *Service) Remove(ctx context.Context, src, dst string) error {
	body, contentType, err := s.form(src)
	if err != nil {
		return err
	}

	resp := &removeResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: s.endpoint + removePath,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
		Response:   resp,
		Timeout:    s.timeout,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	if resp.Image == "" {
		return errors.New("matting service returned no image")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(resp.Image, "data:image/png;base64,"))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	return os.WriteFile(dst, data, 0o644)
}

func (s *Service) form(src string) (*bytes.Buffer, string, error) {
	file, err := os.Open(src)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", filepath.Base(src))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("copy form file: %w", err)
	}

	_ = writer.WriteField("batch_size_seg", strconv.Itoa(s.params.BatchSizeSeg))
	_ = writer.WriteField("batch_size_matting", strconv.Itoa(s.params.BatchSizeMatting))
	_ = writer.WriteField("seg_mask_size", strconv.Itoa(s.params.SegMaskSize))
	_ = writer.WriteField("matting_mask_size", strconv.Itoa(s.params.MattingMaskSize))
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
