package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// resource is the wire shape of an object resource.
type resource struct {
	Name               string            `json:"name"`
	Bucket             string            `json:"bucket"`
	Generation         string            `json:"generation,omitempty"`
	Metageneration     string            `json:"metageneration,omitempty"`
	Size               json.Number       `json:"size,omitempty"`
	TimeCreated        string            `json:"timeCreated,omitempty"`
	Updated            string            `json:"updated,omitempty"`
	MD5Hash            string            `json:"md5Hash,omitempty"`
	CacheControl       string            `json:"cacheControl,omitempty"`
	ContentDisposition string            `json:"contentDisposition,omitempty"`
	ContentEncoding    string            `json:"contentEncoding,omitempty"`
	ContentLanguage    string            `json:"contentLanguage,omitempty"`
	ContentType        string            `json:"contentType,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	DownloadTokens     string            `json:"downloadTokens,omitempty"`
}

// ParseMetadata decodes an object resource body.
func ParseMetadata(body []byte) (*Metadata, error) {
	var r resource
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, WrapError(CodeInvalidFormat, "malformed object resource", err)
	}
	if r.Name == "" || r.Bucket == "" {
		return nil, NewError(CodeInvalidFormat, "object resource is missing name or bucket")
	}

	m := &Metadata{
		Bucket:             r.Bucket,
		FullPath:           r.Name,
		Name:               NewLocation(r.Bucket, r.Name).Name(),
		Generation:         r.Generation,
		Metageneration:     r.Metageneration,
		MD5Hash:            r.MD5Hash,
		CacheControl:       r.CacheControl,
		ContentDisposition: r.ContentDisposition,
		ContentEncoding:    r.ContentEncoding,
		ContentLanguage:    r.ContentLanguage,
		ContentType:        r.ContentType,
		CustomMetadata:     r.Metadata,
	}
	if r.Size != "" {
		size, err := strconv.ParseInt(r.Size.String(), 10, 64)
		if err != nil {
			return nil, WrapError(CodeInvalidFormat, "object size is not an integer", err)
		}
		m.Size = size
	}
	var err error
	if m.TimeCreated, err = parseTime(r.TimeCreated); err != nil {
		return nil, err
	}
	if m.Updated, err = parseTime(r.Updated); err != nil {
		return nil, err
	}
	for _, tok := range strings.Split(r.DownloadTokens, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			m.DownloadTokens = append(m.DownloadTokens, tok)
		}
	}
	return m, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, WrapError(CodeInvalidFormat, fmt.Sprintf("bad timestamp %q", s), err)
	}
	return t, nil
}

// MarshalSettable encodes the writable fields that are set.
func MarshalSettable(m *SettableMetadata) ([]byte, error) {
	out := map[string]interface{}{}
	if m != nil {
		set := func(key string, v *string) {
			if v != nil {
				out[key] = *v
			}
		}
		set("cacheControl", m.CacheControl)
		set("contentDisposition", m.ContentDisposition)
		set("contentEncoding", m.ContentEncoding)
		set("contentLanguage", m.ContentLanguage)
		set("contentType", m.ContentType)
		set("md5Hash", m.MD5Hash)
		if m.CustomMetadata != nil {
			out["metadata"] = m.CustomMetadata
		}
	}
	return json.Marshal(out)
}

// MarshalUploadResource encodes the resource sent when creating an object.
func MarshalUploadResource(loc Location, contentType string, m *SettableMetadata) ([]byte, error) {
	merged := SettableMetadata{}
	if m != nil {
		merged = *m
	}
	if merged.ContentType == nil {
		merged.ContentType = &contentType
	}
	body, err := MarshalSettable(&merged)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	out["name"] = loc.Path
	out["fullPath"] = loc.Path
	return json.Marshal(out)
}

type listResource struct {
	Prefixes []string `json:"prefixes"`
	Items    []struct {
		Name   string `json:"name"`
		Bucket string `json:"bucket"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// ParseListResult decodes one page of a listing for bucket.
func ParseListResult(bucket string, body []byte) (*ListResult, error) {
	var r listResource
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, WrapError(CodeInvalidFormat, "malformed list response", err)
	}
	res := &ListResult{NextPageToken: r.NextPageToken}
	for _, p := range r.Prefixes {
		res.Prefixes = append(res.Prefixes, NewLocation(bucket, strings.TrimSuffix(p, "/")))
	}
	for _, item := range r.Items {
		b := item.Bucket
		if b == "" {
			b = bucket
		}
		res.Items = append(res.Items, NewLocation(b, item.Name))
	}
	return res, nil
}
