// Package remote implements the HTTP client collaborator (spec §6): the
// one component that actually talks to the source-hosting service. Every
// exported method issues a single request/response round trip and
// returns either decoded manifest data or a *wcerr.HTTPError; it carries
// no working-copy state of its own.
//
// Grounded on the teacher's api/api.go HttpGET/HttpGETAuthenticated/
// HttpPOST/HttpPOSTAuthenticated helpers (plain net/http, a whitelisted
// User-Agent, HTTP basic auth with an empty username) and on
// modules/consensus/persist.go's cs.tg.AfterStop pattern for graceful
// shutdown: Close stops the thread group so in-flight requests finish
// and new ones are rejected, instead of tearing down a live connection.
package remote

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/NebulousLabs/threadgroup"
	"github.com/buildservice-client/osc/localcache"
	"github.com/buildservice-client/osc/wcerr"
)

const userAgent = "osc-client-Agent"

// FileEntry is one {name, md5, size, mtime} record from a package
// manifest or a proposed commitfilelist body.
type FileEntry struct {
	Name  string
	MD5   string
	Size  int64
	Mtime int64
}

// LinkInfo carries a package manifest's <linkinfo> element through, when
// present, per the supplemented linkinfo surfacing.
type LinkInfo struct {
	Project string
	Package string
	SrcMD5  string
	BaseRev string
	XSrcMD5 string
	Lsrcmd5 string
}

// PackageManifest is the decoded response of a package-level GET.
type PackageManifest struct {
	Rev     string
	SrcMD5  string
	Entries []FileEntry
	Link    *LinkInfo
}

// CommitResult is the decoded response of a commitfilelist POST.
type CommitResult struct {
	// Accepted is true when the server accepted the proposed filelist
	// outright: Rev/SrcMD5 name the new revision.
	Accepted bool
	Rev      string
	SrcMD5   string

	// Missing names the blobs the server still needs staged via PutFile
	// before the filelist can be resubmitted (spec §4.9 step 3's
	// "missing" response).
	Missing []string
}

// xmlEntry/xmlLinkinfo/xmlDirectory mirror tracker's wire shapes; remote
// decodes the same documents the tracker persists; both packages keep
// their own copy rather than sharing one, since remote's documents come
// off the wire with an "error" attribute tracker's never has to parse.
type xmlEntry struct {
	Name  string `xml:"name,attr"`
	MD5   string `xml:"md5,attr,omitempty"`
	Size  int64  `xml:"size,attr,omitempty"`
	Mtime int64  `xml:"mtime,attr,omitempty"`
}

type xmlLinkinfo struct {
	Project string `xml:"project,attr"`
	Package string `xml:"package,attr"`
	SrcMD5  string `xml:"srcmd5,attr"`
	BaseRev string `xml:"baserev,attr,omitempty"`
	XSrcMD5 string `xml:"xsrcmd5,attr,omitempty"`
	Lsrcmd5 string `xml:"lsrcmd5,attr,omitempty"`
}

type xmlDirectory struct {
	XMLName  xml.Name      `xml:"directory"`
	Rev      string        `xml:"rev,attr,omitempty"`
	SrcMD5   string        `xml:"srcmd5,attr,omitempty"`
	Error    string        `xml:"error,attr,omitempty"`
	Entries  []xmlEntry    `xml:"entry"`
	Linkinfo []xmlLinkinfo `xml:"linkinfo"`
}

// Client is the HTTP collaborator bound to one API endpoint and one set
// of credentials.
type Client struct {
	apiURL   string
	user     string
	password string
	http     *http.Client
	tg       threadgroup.ThreadGroup
	cache    *localcache.Cache
}

// NewClient creates a Client targeting apiURL (e.g.
// "https://api.example.org"), authenticating with user/password via HTTP
// basic auth. An empty password matches the teacher's convention of
// treating "no password" as "no authentication required".
func NewClient(apiURL, user, password string) *Client {
	return &Client{
		apiURL:   strings.TrimRight(apiURL, "/"),
		user:     user,
		password: password,
		http:     http.DefaultClient,
	}
}

// Close stops the client's thread group: in-flight requests are allowed
// to finish, and any call made after Close returns an HTTPError wrapping
// threadgroup.ErrStopped.
func (c *Client) Close() error {
	return c.tg.Stop()
}

// SetCache attaches a local blob cache GetFile consults before issuing a
// GET, and populates on a miss. A nil cache (the default) disables
// caching; callers that don't own a directory to put a cache file in
// never call this.
func (c *Client) SetCache(cache *localcache.Cache) {
	c.cache = cache
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	if c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	return c.http.Do(req)
}

// request performs op under the thread group's guard, decoding non-2xx
// responses into a *wcerr.HTTPError.
func (c *Client) request(op, method, rawurl string, body io.Reader) ([]byte, error) {
	if err := c.tg.Add(); err != nil {
		return nil, &wcerr.HTTPError{Op: op, Err: err}
	}
	defer c.tg.Done()

	req, err := http.NewRequest(method, rawurl, body)
	if err != nil {
		return nil, &wcerr.HTTPError{Op: op, Err: err}
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, &wcerr.HTTPError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, &wcerr.HTTPError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &wcerr.HTTPError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(data)))}
	}
	return data, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := c.apiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// GetProjectManifest fetches the project-level manifest (the list of
// package names the project contains).
func (c *Client) GetProjectManifest(project string) ([]string, error) {
	op := fmt.Sprintf("GET /source/%s", project)
	data, err := c.request(op, "GET", c.url("/source/"+project, nil), nil)
	if err != nil {
		return nil, err
	}
	var doc xmlDirectory
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &wcerr.HTTPError{Op: op, Err: fmt.Errorf("malformed project manifest: %w", err)}
	}
	names := make([]string, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// GetPackageManifest fetches a package's file manifest at the given
// revision (empty means the latest). expand follows an expanded link.
func (c *Client) GetPackageManifest(project, pkg, rev string, expand bool) (*PackageManifest, error) {
	op := fmt.Sprintf("GET /source/%s/%s", project, pkg)
	q := url.Values{}
	if rev != "" {
		q.Set("rev", rev)
	}
	if expand {
		q.Set("expand", "1")
	}
	data, err := c.request(op, "GET", c.url("/source/"+project+"/"+pkg, q), nil)
	if err != nil {
		return nil, err
	}
	var doc xmlDirectory
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &wcerr.HTTPError{Op: op, Err: fmt.Errorf("malformed package manifest: %w", err)}
	}
	pm := &PackageManifest{Rev: doc.Rev, SrcMD5: doc.SrcMD5}
	for _, e := range doc.Entries {
		pm.Entries = append(pm.Entries, FileEntry{Name: e.Name, MD5: e.MD5, Size: e.Size, Mtime: e.Mtime})
	}
	if len(doc.Linkinfo) > 0 {
		l := doc.Linkinfo[0]
		pm.Link = &LinkInfo{Project: l.Project, Package: l.Package, SrcMD5: l.SrcMD5, BaseRev: l.BaseRev, XSrcMD5: l.XSrcMD5, Lsrcmd5: l.Lsrcmd5}
	}
	return pm, nil
}

// GetFile fetches the raw bytes of one file at the given srcmd5. When a
// cache is attached (SetCache) and srcmd5 is non-empty, a cache hit skips
// the round trip entirely; a miss is populated for next time. An empty
// srcmd5 asks for whatever the server currently has at the name and is
// never cached, since the answer can change between calls.
func (c *Client) GetFile(project, pkg, name, srcmd5 string) ([]byte, error) {
	if c.cache != nil && srcmd5 != "" {
		if data, ok, err := c.cache.Get(c.apiURL, project, pkg, srcmd5, name); err == nil && ok {
			return data, nil
		}
	}

	op := fmt.Sprintf("GET /source/%s/%s/%s", project, pkg, name)
	q := url.Values{}
	if srcmd5 != "" {
		q.Set("rev", srcmd5)
	}
	data, err := c.request(op, "GET", c.url("/source/"+project+"/"+pkg+"/"+name, q), nil)
	if err != nil {
		return nil, err
	}
	if c.cache != nil && srcmd5 != "" {
		c.cache.Put(c.apiURL, project, pkg, srcmd5, name, data)
	}
	return data, nil
}

// CommitOptions carries the optional commitfilelist query parameters
// (spec §6's "prefer an options struct over N boolean parameters" note).
type CommitOptions struct {
	Expand   bool
	KeepLink bool
	Comment  string
}

// CommitFileList POSTs the proposed filelist (spec §4.9 step 3, the
// TRANSFER probe). A server response carrying error="missing" is decoded
// into CommitResult.Missing rather than returned as an error: the commit
// executor treats it as an ordinary step in the state machine, not a
// failure.
func (c *Client) CommitFileList(project, pkg string, entries []FileEntry, opts CommitOptions) (*CommitResult, error) {
	op := fmt.Sprintf("POST /source/%s/%s?cmd=commitfilelist", project, pkg)
	q := url.Values{}
	q.Set("cmd", "commitfilelist")
	if opts.Expand {
		q.Set("expand", "1")
	}
	if opts.KeepLink {
		q.Set("keeplink", "1")
	}
	if opts.Comment != "" {
		q.Set("comment", opts.Comment)
	}

	doc := xmlDirectory{}
	for _, e := range entries {
		doc.Entries = append(doc.Entries, xmlEntry{Name: e.Name, MD5: e.MD5})
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, &wcerr.HTTPError{Op: op, Err: err}
	}

	data, err := c.request(op, "POST", c.url("/source/"+project+"/"+pkg, q), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var resp xmlDirectory
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, &wcerr.HTTPError{Op: op, Err: fmt.Errorf("malformed commitfilelist response: %w", err)}
	}
	if resp.Error == "missing" {
		missing := make([]string, 0, len(resp.Entries))
		for _, e := range resp.Entries {
			missing = append(missing, e.Name)
		}
		return &CommitResult{Missing: missing}, nil
	}
	return &CommitResult{Accepted: true, Rev: resp.Rev, SrcMD5: resp.SrcMD5}, nil
}

// PutFile stages one blob under revision "repository", per spec §6.
func (c *Client) PutFile(project, pkg, name string, data []byte) error {
	op := fmt.Sprintf("PUT /source/%s/%s/%s", project, pkg, name)
	q := url.Values{"rev": {"repository"}}
	_, err := c.request(op, "PUT", c.url("/source/"+project+"/"+pkg+"/"+name, q), bytes.NewReader(data))
	return err
}

// DeletePackage deletes a package outright.
func (c *Client) DeletePackage(project, pkg string) error {
	op := fmt.Sprintf("DELETE /source/%s/%s", project, pkg)
	_, err := c.request(op, "DELETE", c.url("/source/"+project+"/"+pkg, nil), nil)
	return err
}

// PutMeta creates or replaces a project's or a package's _meta document.
// pkg is empty for a project-level PUT.
func (c *Client) PutMeta(project, pkg string, meta []byte) error {
	path := "/source/" + project
	op := fmt.Sprintf("PUT %s/_meta", path)
	if pkg != "" {
		path += "/" + pkg
		op = fmt.Sprintf("PUT %s/_meta", path)
	}
	_, err := c.request(op, "PUT", c.url(path+"/_meta", nil), bytes.NewReader(meta))
	return err
}

// Search is a thin pass-through to the service's search endpoint (the
// supplemented, intentionally shallow "search read-only listing"
// feature — see SPEC_FULL's SUPPLEMENTED FEATURES). It returns the raw
// response body undecoded and does no rendering; no cmd/osc subcommand
// calls it.
func (c *Client) Search(query string) ([]byte, error) {
	op := "GET /search"
	q := url.Values{}
	if query != "" {
		q.Set("match", query)
	}
	return c.request(op, "GET", c.url("/search", q), nil)
}
