package storagetest

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type uploadResource struct {
	Name         string            `json:"name"`
	ContentType  string            `json:"contentType"`
	CacheControl string            `json:"cacheControl"`
	Metadata     map[string]string `json:"metadata"`
}

func (s *Server) create(c *gin.Context) {
	switch c.GetHeader("X-Goog-Upload-Protocol") {
	case "multipart":
		s.createMultipart(c)
	case "resumable":
		if c.GetHeader("X-Goog-Upload-Command") != "start" {
			abortWithError(c, http.StatusBadRequest, "Resumable uploads must start with the start command.")
			return
		}
		s.startSession(c)
	default:
		abortWithError(c, http.StatusBadRequest, "Unsupported upload protocol.")
	}
}

func (s *Server) createMultipart(c *gin.Context) {
	mediaType, params, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil || mediaType != "multipart/related" {
		abortWithError(c, http.StatusBadRequest, "Expected a multipart/related body.")
		return
	}
	mr := multipart.NewReader(c.Request.Body, params["boundary"])

	part, err := mr.NextPart()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Missing metadata part.")
		return
	}
	var res uploadResource
	if err := json.NewDecoder(part).Decode(&res); err != nil {
		abortWithError(c, http.StatusBadRequest, "Malformed metadata part.")
		return
	}
	part, err = mr.NextPart()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Missing media part.")
		return
	}
	data, err := io.ReadAll(part)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Unreadable media part.")
		return
	}

	name := c.Query("name")
	if name == "" {
		name = res.Name
	}
	s.mu.Lock()
	o := s.putLocked(&Object{
		Bucket:         c.Param("bucket"),
		Name:           name,
		Data:           data,
		ContentType:    res.ContentType,
		CacheControl:   res.CacheControl,
		CustomMetadata: res.Metadata,
	})
	body := resource(o)
	s.mu.Unlock()
	c.JSON(http.StatusOK, body)
}

func (s *Server) startSession(c *gin.Context) {
	var res uploadResource
	if err := c.ShouldBindJSON(&res); err != nil {
		abortWithError(c, http.StatusBadRequest, "Malformed upload resource.")
		return
	}
	size := int64(-1)
	if v := c.GetHeader("X-Goog-Upload-Header-Content-Length"); v != "" {
		n, err := atoi64(v)
		if err != nil || n < 0 {
			abortWithError(c, http.StatusBadRequest, "Invalid content length.")
			return
		}
		size = n
	}
	name := c.Query("name")
	if name == "" {
		name = res.Name
	}
	contentType := c.GetHeader("X-Goog-Upload-Header-Content-Type")
	if contentType == "" {
		contentType = res.ContentType
	}

	sess := &session{
		id:             uuid.New().String(),
		bucket:         c.Param("bucket"),
		name:           name,
		contentType:    contentType,
		cacheControl:   res.CacheControl,
		customMetadata: res.Metadata,
		size:           size,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	c.Header("X-Goog-Upload-Status", "active")
	c.Header("X-Goog-Upload-URL", s.http.URL+"/upload/"+sess.id)
	c.Status(http.StatusOK)
}

func (s *Server) resumable(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Unreadable body.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[c.Param("session")]
	if !ok {
		abortWithError(c, http.StatusNotFound, "Upload session not found.")
		return
	}

	command := c.GetHeader("X-Goog-Upload-Command")
	switch command {
	case "query":
	case "upload", "upload, finalize":
		if sess.final {
			abortWithError(c, http.StatusBadRequest, "Upload session is already finalized.")
			return
		}
		offset, err := atoi64(c.GetHeader("X-Goog-Upload-Offset"))
		if err != nil || offset < 0 || offset > int64(len(sess.data)) {
			abortWithError(c, http.StatusBadRequest, "Invalid upload offset.")
			return
		}
		data := append(sess.data[:offset:offset], body...)
		if sess.size >= 0 && int64(len(data)) > sess.size {
			abortWithError(c, http.StatusBadRequest, "Upload exceeds declared size.")
			return
		}
		sess.data = data
		if command == "upload, finalize" {
			if sess.size >= 0 && int64(len(sess.data)) != sess.size {
				abortWithError(c, http.StatusBadRequest, "Upload is shorter than declared size.")
				return
			}
			sess.final = true
			s.putLocked(&Object{
				Bucket:         sess.bucket,
				Name:           sess.name,
				Data:           sess.data,
				ContentType:    sess.contentType,
				CacheControl:   sess.cacheControl,
				CustomMetadata: sess.customMetadata,
			})
		}
	default:
		abortWithError(c, http.StatusBadRequest, "Unknown upload command.")
		return
	}

	c.Header("X-Goog-Upload-Size-Received", itoa(int64(len(sess.data))))
	if !sess.final {
		c.Header("X-Goog-Upload-Status", "active")
		c.Status(http.StatusOK)
		return
	}
	c.Header("X-Goog-Upload-Status", "final")
	o, ok := s.buckets[sess.bucket][sess.name]
	if !ok {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, resource(o))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func atoi(s string) (int, error) {
	return strconv.Atoi(s)
}

func atoi64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
