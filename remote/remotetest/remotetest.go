// Package remotetest implements an in-process fake of the source-hosting
// service (spec §6) for the remote, wc, and project test suites. It is
// grounded on the teacher's api/server.go + api.initAPI router wiring
// (httprouter routes registered in a constructor, net/http.Server over a
// net.Listener) but serves an in-memory project/package/blob tree instead
// of proxying to real consensus/host/wallet modules.
package remotetest

import (
	"bytes"
	"encoding/xml"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"
)

type xmlEntry struct {
	Name  string `xml:"name,attr"`
	MD5   string `xml:"md5,attr,omitempty"`
	Size  int64  `xml:"size,attr,omitempty"`
	Mtime int64  `xml:"mtime,attr,omitempty"`
}

type xmlDirectory struct {
	XMLName xml.Name   `xml:"directory"`
	Rev     string     `xml:"rev,attr,omitempty"`
	SrcMD5  string      `xml:"srcmd5,attr,omitempty"`
	Error   string      `xml:"error,attr,omitempty"`
	Entries []xmlEntry  `xml:"entry"`
}

// File is one tracked file's server-side state.
type File struct {
	MD5   string
	Size  int64
	Mtime int64
	Data  []byte
}

// Package is one server-side package: its current revision's file set
// plus every blob ever PUT to it (committed or merely staged), keyed by
// md5 so CommitFileList can resolve a proposed entry against a blob that
// was staged in an earlier, interrupted commit.
type Package struct {
	Rev    string
	SrcMD5 string
	Files  map[string]File
	blobs  map[string][]byte
	meta   []byte
}

// Server is a minimal, in-memory fake of the source-hosting HTTP service.
// Zero value is not usable; use New.
type Server struct {
	mu       sync.Mutex
	projects map[string]map[string]*Package // project -> package -> state
	rev      int

	listener net.Listener
	http     *http.Server
}

// New starts listening on an arbitrary free local port and serving the
// fake API. Callers read srv.URL() and pass it to remote.NewClient.
func New() (*Server, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	srv := &Server{
		projects: make(map[string]map[string]*Package),
		listener: l,
	}
	srv.http = &http.Server{Handler: srv.router()}
	go srv.http.Serve(l)
	return srv, nil
}

// URL is the base API URL a remote.Client should be pointed at.
func (s *Server) URL() string {
	return "http://" + s.listener.Addr().String()
}

// Close shuts down the listener.
func (s *Server) Close() error {
	return s.listener.Close()
}

// AddPackage seeds (or replaces) project/pkg with a file set under a new
// revision: the server-wide revision counter is incremented, so the first
// call establishes rev "1" and every later call the next number. Tests call
// this before pointing a wc at the server, and again to simulate a remote
// change.
func (s *Server) AddPackage(project, pkg string, files map[string]File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projects[project] == nil {
		s.projects[project] = make(map[string]*Package)
	}
	s.rev++
	p := &Package{
		Rev:    itoa(s.rev),
		SrcMD5: combinedMD5(files),
		Files:  files,
		blobs:  make(map[string][]byte),
	}
	for _, f := range files {
		p.blobs[f.MD5] = f.Data
	}
	s.projects[project][pkg] = p
}

func (s *Server) router() http.Handler {
	r := httprouter.New()
	r.GET("/source/:project", s.handleProjectGET)
	r.GET("/source/:project/:pkg", s.handlePackageGET)
	r.GET("/source/:project/:pkg/:file", s.handleFileGET)
	r.POST("/source/:project/:pkg", s.handleCommitFileList)
	r.PUT("/source/:project/:pkg/:file", s.handlePutFile)
	r.DELETE("/source/:project/:pkg", s.handleDeletePackage)
	r.PUT("/source/:project/_meta", s.handlePutProjectMeta)
	r.PUT("/source/:project/:pkg/_meta", s.handlePutPackageMeta)
	r.GET("/search", s.handleSearch)
	return r
}

func (s *Server) handleProjectGET(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkgs := s.projects[ps.ByName("project")]
	if pkgs == nil {
		http.NotFound(w, req)
		return
	}
	names := make([]string, 0, len(pkgs))
	for name := range pkgs {
		names = append(names, name)
	}
	sort.Strings(names)
	doc := xmlDirectory{}
	for _, n := range names {
		doc.Entries = append(doc.Entries, xmlEntry{Name: n})
	}
	writeXML(w, doc)
}

func (s *Server) handlePackageGET(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkg := s.lookup(ps.ByName("project"), ps.ByName("pkg"))
	if pkg == nil {
		http.NotFound(w, req)
		return
	}
	doc := xmlDirectory{Rev: pkg.Rev, SrcMD5: pkg.SrcMD5}
	names := make([]string, 0, len(pkg.Files))
	for name := range pkg.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := pkg.Files[name]
		doc.Entries = append(doc.Entries, xmlEntry{Name: name, MD5: f.MD5, Size: f.Size, Mtime: f.Mtime})
	}
	writeXML(w, doc)
}

func (s *Server) handleFileGET(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkg := s.lookup(ps.ByName("project"), ps.ByName("pkg"))
	if pkg == nil {
		http.NotFound(w, req)
		return
	}
	f, ok := pkg.Files[ps.ByName("file")]
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Write(f.Data)
}

func (s *Server) handleCommitFileList(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, pkgName := ps.ByName("project"), ps.ByName("pkg")
	if s.projects[project] == nil {
		s.projects[project] = make(map[string]*Package)
	}
	pkg := s.projects[project][pkgName]
	if pkg == nil {
		pkg = &Package{Files: make(map[string]File), blobs: make(map[string][]byte)}
		s.projects[project][pkgName] = pkg
	}

	var proposed xmlDirectory
	body := new(bytes.Buffer)
	body.ReadFrom(req.Body)
	if err := xml.Unmarshal(body.Bytes(), &proposed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var missing []string
	newFiles := make(map[string]File, len(proposed.Entries))
	for _, e := range proposed.Entries {
		existing, known := pkg.Files[e.Name]
		if data, staged := pkg.blobs[e.MD5]; staged {
			newFiles[e.Name] = File{MD5: e.MD5, Size: int64(len(data)), Data: data}
			continue
		}
		if known && existing.MD5 == e.MD5 {
			newFiles[e.Name] = existing
			continue
		}
		missing = append(missing, e.Name)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		resp := xmlDirectory{Error: "missing"}
		for _, name := range missing {
			resp.Entries = append(resp.Entries, xmlEntry{Name: name})
		}
		writeXML(w, resp)
		return
	}

	s.rev++
	pkg.Rev = itoa(s.rev)
	pkg.SrcMD5 = combinedMD5(newFiles)
	pkg.Files = newFiles
	writeXML(w, xmlDirectory{Rev: pkg.Rev, SrcMD5: pkg.SrcMD5})
}

func (s *Server) handlePutFile(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, pkgName := ps.ByName("project"), ps.ByName("pkg")
	if s.projects[project] == nil {
		s.projects[project] = make(map[string]*Package)
	}
	pkg := s.projects[project][pkgName]
	if pkg == nil {
		pkg = &Package{Files: make(map[string]File), blobs: make(map[string][]byte)}
		s.projects[project][pkgName] = pkg
	}
	body := new(bytes.Buffer)
	body.ReadFrom(req.Body)
	data := append([]byte{}, body.Bytes()...)
	pkg.blobs[md5Hex(data)] = data
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project := ps.ByName("project")
	if s.projects[project] != nil {
		delete(s.projects[project], ps.ByName("pkg"))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePutProjectMeta(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project := ps.ByName("project")
	if s.projects[project] == nil {
		s.projects[project] = make(map[string]*Package)
	}
	body := new(bytes.Buffer)
	body.ReadFrom(req.Body)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePutPackageMeta(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, pkgName := ps.ByName("project"), ps.ByName("pkg")
	if s.projects[project] == nil {
		s.projects[project] = make(map[string]*Package)
	}
	pkg := s.projects[project][pkgName]
	if pkg == nil {
		pkg = &Package{Files: make(map[string]File), blobs: make(map[string][]byte)}
		s.projects[project][pkgName] = pkg
	}
	body := new(bytes.Buffer)
	body.ReadFrom(req.Body)
	pkg.meta = append([]byte{}, body.Bytes()...)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSearch(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	match := req.URL.Query().Get("match")
	doc := xmlDirectory{}
	for project, pkgs := range s.projects {
		for name := range pkgs {
			if match == "" || strings.Contains(name, match) {
				doc.Entries = append(doc.Entries, xmlEntry{Name: project + "/" + name})
			}
		}
	}
	writeXML(w, doc)
}

func (s *Server) lookup(project, pkg string) *Package {
	pkgs := s.projects[project]
	if pkgs == nil {
		return nil
	}
	return pkgs[pkg]
}

func writeXML(w http.ResponseWriter, doc xmlDirectory) {
	data, err := xml.Marshal(doc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(data)
}
