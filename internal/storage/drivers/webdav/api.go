// Package webdav implements the WEBDAV storage driver: a REST client
// speaking PROPFIND/GET/PUT/MKCOL/DELETE/MOVE/COPY against any
// compliant WebDAV server. Grounded on the teacher's
// backend/webdav/webdav.go and backend/webdav/api/types.go, which
// solve the identical problem for rclone's webdav remote.
package webdav

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"
)

// multistatus is the XML envelope returned by a 207 PROPFIND response.
type multistatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href  string  `xml:"href"`
	Props davProp `xml:"propstat>prop"`
}

type davProp struct {
	Name         string    `xml:"displayname"`
	ResourceType *xml.Name `xml:"resourcetype>collection"`
	Size         string    `xml:"getcontentlength"`
	Modified     string    `xml:"getlastmodified"`
	ETag         string    `xml:"getetag"`
	ContentType  string    `xml:"getcontenttype"`
}

func (p davProp) isCollection() bool { return p.ResourceType != nil }

func (p davProp) size() int64 {
	n, _ := strconv.ParseInt(p.Size, 10, 64)
	return n
}

func (p davProp) modTime() time.Time {
	t, err := time.Parse(time.RFC1123, p.Modified)
	if err != nil {
		return time.Time{}
	}
	return t
}

// propfindBody is the minimal "allprop" request body used for both
// depth-1 directory listings and depth-0 single-item stats.
const propfindBody = `<?xml version="1.0" encoding="utf-8"?><d:propfind xmlns:d="DAV:"><d:allprop/></d:propfind>`

// hrefName extracts the final path segment of an href, decoded and
// stripped of any trailing slash, for use as a listing entry's Name.
func hrefName(href, basePath string) string {
	href = strings.TrimSuffix(href, "/")
	basePath = strings.TrimSuffix(basePath, "/")
	trimmed := strings.TrimPrefix(href, basePath)
	trimmed = strings.Trim(trimmed, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
