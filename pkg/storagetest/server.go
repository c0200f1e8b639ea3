// Package storagetest runs an in-memory object-storage service speaking the
// client's REST and resumable upload protocols, for tests.
package storagetest

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sgl-project/objclient/pkg/logging/ginlog"
)

// Object is a stored object.
type Object struct {
	Bucket         string
	Name           string
	Data           []byte
	ContentType    string
	CacheControl   string
	CustomMetadata map[string]string
	Generation     int64
	Metageneration int64
	Created        time.Time
	Updated        time.Time
	DownloadToken  string
}

// Request is a request the server received.
type Request struct {
	Method string
	// Path is the escaped request path.
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Fault makes matching requests fail before they are handled.
type Fault struct {
	Method string
	// PathPrefix is matched against the escaped path.
	PathPrefix string
	// Command is matched against the upload command header.
	Command string
	// Status is the response status; 0 drops the connection without a response.
	Status int
	Body   string
	// Times is how often the fault fires; 0 means once.
	Times int
	// Delay holds the request before failing or handling it.
	Delay time.Duration
	// Pass lets the request through after Delay instead of failing it.
	Pass bool
}

type session struct {
	id             string
	bucket         string
	name           string
	contentType    string
	cacheControl   string
	customMetadata map[string]string
	size           int64
	data           []byte
	final          bool
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires every request to carry "Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithLogger logs every request through the gin request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server is a fake object-storage service.
type Server struct {
	engine *gin.Engine
	http   *httptest.Server
	token  string
	logger *zap.Logger

	mu       sync.Mutex
	buckets  map[string]map[string]*Object
	sessions map[string]*session
	requests []Request
	faults   []*Fault
	now      func() time.Time
}

// NewServer starts a server. Close it when done.
func NewServer(opts ...Option) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		buckets:  map[string]map[string]*Object{},
		sessions: map[string]*session{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.UseRawPath = true
	engine.UnescapePathValues = true
	engine.Use(gin.Recovery())
	if s.logger != nil {
		engine.Use(ginlog.RequestLogger(s.logger))
	}
	engine.Use(s.record, s.inject, s.authorize)

	api := engine.Group("/v0/b/:bucket/o")
	api.GET("", s.list)
	api.POST("", s.create)
	api.GET("/:object", s.get)
	api.PATCH("/:object", s.patch)
	api.DELETE("/:object", s.delete)
	engine.POST("/upload/:session", s.resumable)

	s.engine = engine
	s.http = httptest.NewServer(engine)
	return s
}

// URL is the base URL of the server.
func (s *Server) URL() string {
	return s.http.URL
}

// Host is the host:port of the server.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.http.URL, "http://")
}

// Client returns an HTTP client for the server.
func (s *Server) Client() *http.Client {
	return s.http.Client()
}

// Close shuts the server down.
func (s *Server) Close() {
	s.http.CloseClientConnections()
	s.http.Close()
}

// CreateBucket makes an empty bucket.
func (s *Server) CreateBucket(bucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = map[string]*Object{}
	}
}

// PutObject stores an object, creating the bucket if needed.
func (s *Server) PutObject(bucket, name string, data []byte, contentType string) *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(&Object{Bucket: bucket, Name: name, Data: data, ContentType: contentType})
}

// Object returns a copy of a stored object.
func (s *Server) Object(bucket, name string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.buckets[bucket][name]
	if !ok {
		return Object{}, false
	}
	return *o, true
}

// Requests returns the received requests in order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// InjectFault arms f.
func (s *Server) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Times <= 0 {
		f.Times = 1
	}
	s.faults = append(s.faults, &f)
}

// SessionData returns the bytes a resumable session has persisted.
func (s *Server) SessionData(sessionURL string) ([]byte, bool) {
	id := sessionURL[strings.LastIndex(sessionURL, "/")+1:]
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), sess.data...), true
}

func (s *Server) putLocked(o *Object) *Object {
	objects := s.buckets[o.Bucket]
	if objects == nil {
		objects = map[string]*Object{}
		s.buckets[o.Bucket] = objects
	}
	now := s.now().UTC()
	o.Created, o.Updated = now, now
	o.Generation = now.UnixNano()
	o.Metageneration = 1
	if o.ContentType == "" {
		o.ContentType = "application/octet-stream"
	}
	if o.DownloadToken == "" {
		o.DownloadToken = uuid.New().String()
	}
	if prev, ok := objects[o.Name]; ok {
		o.Created = prev.Created
	}
	objects[o.Name] = o
	return o
}

func (s *Server) record(c *gin.Context) {
	body, _ := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: c.Request.Method,
		Path:   c.Request.URL.EscapedPath(),
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header.Clone(),
		Body:   body,
	})
	s.mu.Unlock()
	c.Next()
}

func (s *Server) inject(c *gin.Context) {
	s.mu.Lock()
	var fault *Fault
	for i, f := range s.faults {
		if f.matches(c.Request) {
			fault = f
			f.Times--
			if f.Times <= 0 {
				s.faults = append(s.faults[:i], s.faults[i+1:]...)
			}
			break
		}
	}
	s.mu.Unlock()

	if fault == nil {
		c.Next()
		return
	}
	if fault.Delay > 0 {
		select {
		case <-time.After(fault.Delay):
		case <-c.Request.Context().Done():
			c.Abort()
			return
		}
	}
	switch {
	case fault.Pass:
		c.Next()
	case fault.Status == 0:
		c.Abort()
		if conn, _, err := c.Writer.Hijack(); err == nil {
			_ = conn.Close()
		}
	default:
		c.Data(fault.Status, "application/json", []byte(fault.Body))
		c.Abort()
	}
}

func (f *Fault) matches(r *http.Request) bool {
	if f.Method != "" && f.Method != r.Method {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(r.URL.EscapedPath(), f.PathPrefix) {
		return false
	}
	if f.Command != "" && f.Command != r.Header.Get("X-Goog-Upload-Command") {
		return false
	}
	return true
}

func (s *Server) authorize(c *gin.Context) {
	if s.token == "" || c.GetHeader("Authorization") == "Bearer "+s.token {
		c.Next()
		return
	}
	abortWithError(c, http.StatusUnauthorized, "Missing or invalid credentials.")
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": status, "message": message}})
}

func (s *Server) objectLocked(c *gin.Context) (*Object, bool) {
	o, ok := s.buckets[c.Param("bucket")][c.Param("object")]
	if !ok {
		abortWithError(c, http.StatusNotFound, "Not Found.")
	}
	return o, ok
}

// resource renders the wire form of an object.
func resource(o *Object) gin.H {
	sum := md5.Sum(o.Data)
	r := gin.H{
		"name":           o.Name,
		"bucket":         o.Bucket,
		"size":           itoa(int64(len(o.Data))),
		"generation":     itoa(o.Generation),
		"metageneration": itoa(o.Metageneration),
		"timeCreated":    o.Created.Format(time.RFC3339Nano),
		"updated":        o.Updated.Format(time.RFC3339Nano),
		"md5Hash":        base64.StdEncoding.EncodeToString(sum[:]),
		"contentType":    o.ContentType,
		"downloadTokens": o.DownloadToken,
	}
	if o.CacheControl != "" {
		r["cacheControl"] = o.CacheControl
	}
	if len(o.CustomMetadata) > 0 {
		r["metadata"] = o.CustomMetadata
	}
	return r
}

func (s *Server) list(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := c.Param("bucket")
	objects, ok := s.buckets[bucket]
	if !ok {
		abortWithError(c, http.StatusNotFound, "Bucket not found.")
		return
	}
	prefix, delimiter := c.Query("prefix"), c.Query("delimiter")
	maxResults := 1000
	if v := c.Query("maxResults"); v != "" {
		n, err := atoi(v)
		if err != nil || n < 1 {
			abortWithError(c, http.StatusBadRequest, "Invalid maxResults.")
			return
		}
		maxResults = min(n, 1000)
	}

	type entry struct {
		name     string
		isPrefix bool
	}
	seen := map[string]bool{}
	var entries []entry
	for name := range objects {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := name[len(prefix):]
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				p := prefix + rest[:i+len(delimiter)]
				if !seen[p] {
					seen[p] = true
					entries = append(entries, entry{p, true})
				}
				continue
			}
		}
		entries = append(entries, entry{name, false})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	start := 0
	if tok := c.Query("pageToken"); tok != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "Invalid page token.")
			return
		}
		start = sort.Search(len(entries), func(i int) bool { return entries[i].name > string(decoded) })
	}
	end := min(start+maxResults, len(entries))

	prefixes := []string{}
	items := []gin.H{}
	for _, e := range entries[start:end] {
		if e.isPrefix {
			prefixes = append(prefixes, e.name)
		} else {
			items = append(items, gin.H{"name": e.name, "bucket": bucket})
		}
	}
	resp := gin.H{"prefixes": prefixes, "items": items}
	if end < len(entries) {
		resp["nextPageToken"] = base64.RawURLEncoding.EncodeToString([]byte(entries[end-1].name))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) get(c *gin.Context) {
	s.mu.Lock()
	o, ok := s.objectLocked(c)
	if !ok {
		s.mu.Unlock()
		return
	}
	obj := *o
	s.mu.Unlock()

	if c.Query("alt") != "media" {
		c.JSON(http.StatusOK, resource(&obj))
		return
	}
	data := obj.Data
	if rng := c.GetHeader("Range"); rng != "" {
		first, last, ok := parseRange(rng, int64(len(data)))
		if !ok {
			abortWithError(c, http.StatusRequestedRangeNotSatisfiable, "Invalid range.")
			return
		}
		c.Header("Content-Range", "bytes "+itoa(first)+"-"+itoa(last)+"/"+itoa(int64(len(data))))
		c.Data(http.StatusPartialContent, obj.ContentType, data[first:last+1])
		return
	}
	c.Data(http.StatusOK, obj.ContentType, data)
}

// parseRange handles the single "bytes=first-last" form.
func parseRange(h string, size int64) (int64, int64, bool) {
	spec, ok := strings.CutPrefix(h, "bytes=")
	if !ok {
		return 0, 0, false
	}
	a, b, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, false
	}
	first, err := atoi64(a)
	if err != nil || first >= size {
		return 0, 0, false
	}
	last := size - 1
	if b != "" {
		if last, err = atoi64(b); err != nil || last < first {
			return 0, 0, false
		}
		last = min(last, size-1)
	}
	return first, last, true
}

type patchBody struct {
	CacheControl *string           `json:"cacheControl"`
	ContentType  *string           `json:"contentType"`
	Metadata     map[string]string `json:"metadata"`
}

func (s *Server) patch(c *gin.Context) {
	var body patchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objectLocked(c)
	if !ok {
		return
	}
	if body.CacheControl != nil {
		o.CacheControl = *body.CacheControl
	}
	if body.ContentType != nil {
		o.ContentType = *body.ContentType
	}
	if body.Metadata != nil {
		o.CustomMetadata = body.Metadata
	}
	o.Metageneration++
	o.Updated = s.now().UTC()
	c.JSON(http.StatusOK, resource(o))
}

func (s *Server) delete(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objectLocked(c); !ok {
		return
	}
	delete(s.buckets[c.Param("bucket")], c.Param("object"))
	c.Status(http.StatusNoContent)
}
