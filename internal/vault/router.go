package vault

import (
	"net/http"
)

// Handler returns an http.Handler implementing the file vault API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /file/v1", s.handleUpload)
	mux.HandleFunc("GET /file/v1/{id}", s.handleDownload)
	mux.HandleFunc("PATCH /file/v1/{id}/rename", s.handleRename)
	mux.HandleFunc("DELETE /file/v1/{id}", s.handleDelete)

	mux.HandleFunc("GET /files/v1", s.handleListOwned)
	mux.HandleFunc("GET /files/v1/public", s.handleListPublic)

	return LogRequest(Recoverer(SlashFix(mux)))
}
