// Package httpapi wires the core repo/assembly/ingest/keyring operations to
// the HTTP surface described in the external interfaces.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"github.com/FyraLabs/subatomic-ng/pkg/assembly"
	"github.com/FyraLabs/subatomic-ng/pkg/httputil"
	"github.com/FyraLabs/subatomic-ng/pkg/ingest"
	"github.com/FyraLabs/subatomic-ng/pkg/keyring"
	"github.com/FyraLabs/subatomic-ng/pkg/middleware"
	"github.com/FyraLabs/subatomic-ng/pkg/objstore"
	"github.com/FyraLabs/subatomic-ng/pkg/observability"
	"github.com/FyraLabs/subatomic-ng/pkg/repo"
)

// Version is the build version string served at GET /version. Set by the
// linker in release builds; defaults to "dev" otherwise.
var Version = "dev"

// Server is the HTTP adapter over the repo/assembly/ingest/keyring core.
type Server struct {
	router *mux.Router

	db       *sql.DB
	store    *objstore.Store
	logger   *observability.Logger
	packages *repo.Store
	tags     *repo.TagStore
	composes *repo.ComposeStore
	keys     *keyring.Store
	engine   *assembly.Engine
	pipeline *ingest.Pipeline
	cache    *repo.RedisCache

	deleteWhenPrune bool
}

// Deps bundles the collaborators Server wires onto routes.
type Deps struct {
	DB              *sql.DB
	Store           *objstore.Store
	Logger          *observability.Logger
	Packages        *repo.Store
	Tags            *repo.TagStore
	Composes        *repo.ComposeStore
	Keys            *keyring.Store
	Engine          *assembly.Engine
	Pipeline        *ingest.Pipeline
	DeleteWhenPrune bool

	// Cache is an optional Redis read-through layer in front of Packages
	// and Tags. Nil disables it; handlers fall back to the relational
	// stores directly.
	Cache *repo.RedisCache
}

// NewServer constructs the router and registers every route.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		db:              deps.DB,
		store:           deps.Store,
		logger:          deps.Logger,
		packages:        deps.Packages,
		tags:            deps.Tags,
		composes:        deps.Composes,
		keys:            deps.Keys,
		engine:          deps.Engine,
		pipeline:        deps.Pipeline,
		cache:           deps.Cache,
		deleteWhenPrune: deps.DeleteWhenPrune,
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recover(s.logger))
	s.router.Use(middleware.AccessLog(s.logger))
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	s.router.HandleFunc("/rpms", s.handleListPackages).Methods(http.MethodGet)
	s.router.HandleFunc("/rpm/{id}", s.handleGetPackage).Methods(http.MethodGet)
	s.router.HandleFunc("/rpm/{id}", s.handleDeletePackage).Methods(http.MethodDelete)
	s.router.HandleFunc("/rpm/{id}/available", s.handleMarkAvailable).Methods(http.MethodPost)
	s.router.HandleFunc("/rpm/{id}/available", s.handleMarkUnavailable).Methods(http.MethodDelete)
	s.router.HandleFunc("/rpm/upload", s.handleUpload).Methods(http.MethodPut)

	s.router.HandleFunc("/repos", s.handleListTags).Methods(http.MethodGet)
	s.router.HandleFunc("/repo", s.handleCreateTag).Methods(http.MethodPost)
	s.router.HandleFunc("/repo/{id}", s.handleGetTag).Methods(http.MethodGet)
	s.router.HandleFunc("/repo/{id}", s.handleDeleteTag).Methods(http.MethodDelete)
	s.router.HandleFunc("/repo/{id}/key", s.handleAttachKey).Methods(http.MethodPost)
	s.router.HandleFunc("/repo/{id}/rpms", s.handleListTagPackages).Methods(http.MethodGet)
	s.router.HandleFunc("/repo/{id}/assemble", s.handleAssemble).Methods(http.MethodPost)

	s.router.HandleFunc("/keys", s.handleListKeys).Methods(http.MethodGet)
	s.router.HandleFunc("/key", s.handleCreateKey).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		httputil.WriteServiceUnavailable(w, "database unreachable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := s.packages.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	refs := make([]repo.Ref, 0, len(pkgs))
	for _, pkg := range pkgs {
		refs = append(refs, pkg.Ref())
	}
	httputil.WriteJSON(w, http.StatusOK, refs)
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pkg, err := s.getPackage(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pkg)
}

// getPackage reads through the Redis cache when one is configured,
// otherwise it hits the relational store directly.
func (s *Server) getPackage(ctx context.Context, id string) (*repo.Package, error) {
	if s.cache != nil {
		return s.cache.GetPackage(ctx, id)
	}
	return s.packages.Get(ctx, id)
}

// getTag reads through the Redis cache when one is configured, otherwise
// it hits the relational store directly.
func (s *Server) getTag(ctx context.Context, name string) (*repo.Tag, error) {
	if s.cache != nil {
		return s.cache.GetTag(ctx, name)
	}
	return s.tags.Get(ctx, name)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pkg, err := s.packages.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if err := s.packages.Delete(r.Context(), s.store, pkg); err != nil {
		writeRepoError(w, err)
		return
	}
	s.invalidatePackage(r.Context(), id)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleMarkAvailable(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pkg, err := s.packages.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if err := s.packages.MarkAvailable(r.Context(), pkg); err != nil {
		writeRepoError(w, err)
		return
	}
	s.invalidatePackage(r.Context(), id)
	httputil.WriteJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleMarkUnavailable(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pkg, err := s.packages.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	prune, err := httputil.ParseQueryBool(r, "prune", s.deleteWhenPrune)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := s.packages.MarkUnavailablePruned(r.Context(), s.store, pkg, prune); err != nil {
		writeRepoError(w, err)
		return
	}
	s.invalidatePackage(r.Context(), id)
	httputil.WriteJSON(w, http.StatusOK, pkg)
}

// invalidatePackage drops a package's cached row, if a cache is configured.
func (s *Server) invalidatePackage(ctx context.Context, id string) {
	if s.cache != nil {
		s.cache.InvalidatePackage(ctx, id)
	}
}

// invalidateTag drops a tag's cached row, if a cache is configured.
func (s *Server) invalidateTag(ctx context.Context, name string) {
	if s.cache != nil {
		s.cache.InvalidateTag(ctx, name)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	prune, err := httputil.ParseQueryBool(r, "prune", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		httputil.WriteBadRequest(w, "invalid multipart body: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file_upload")
	if err != nil {
		httputil.WriteBadRequest(w, "missing file_upload field")
		return
	}
	defer file.Close()

	tag := r.FormValue("tag")
	if tag == "" {
		tag = r.FormValue("id")
	}
	if tag == "" {
		httputil.WriteBadRequest(w, "missing tag or id field")
		return
	}

	pkg, err := s.pipeline.Ingest(r.Context(), header.Filename, tag, file, ingest.Options{MarkAvailable: prune})
	if err != nil {
		writeRepoError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.tags.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tags)
}

type createTagRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req createTagRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	tag := repo.NewTag(req.Name)
	if err := s.tags.Create(r.Context(), tag); err != nil {
		writeRepoError(w, err)
		return
	}
	httputil.WriteCreated(w, tag)
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	tag, err := s.getTag(r.Context(), name)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tag)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	if err := s.tags.Delete(r.Context(), name); err != nil {
		writeRepoError(w, err)
		return
	}
	s.invalidateTag(r.Context(), name)
	httputil.WriteNoContent(w)
}

type attachKeyRequest struct {
	KeyID string `json:"key_id"`
}

func (s *Server) handleAttachKey(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	var req attachKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.KeyID, "key_id") {
		return
	}

	tag, err := s.tags.Get(r.Context(), name)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	tag.SetGpgKey(req.KeyID)
	if err := s.tags.Save(r.Context(), tag); err != nil {
		writeRepoError(w, err)
		return
	}
	s.invalidateTag(r.Context(), name)
	httputil.WriteJSON(w, http.StatusOK, tag)
}

func (s *Server) handleListTagPackages(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	pkgs, err := s.tags.GetAvailableRpms(r.Context(), name)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	refs := make([]repo.Ref, 0, len(pkgs))
	for _, pkg := range pkgs {
		refs = append(refs, pkg.Ref())
	}
	httputil.WriteJSON(w, http.StatusOK, refs)
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	compose, err := s.engine.Assemble(r.Context(), name)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, compose)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.GetAll(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	refs := make([]*keyring.GpgKeyRef, 0, len(keys))
	for _, key := range keys {
		refs = append(refs, key.Ref())
	}
	httputil.WriteJSON(w, http.StatusOK, refs)
}

type createKeyRequest struct {
	UserID      string  `json:"user_id"`
	Description *string `json:"description,omitempty"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}

	key, err := keyring.New(ulid.Make().String(), req.Description, req.UserID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if err := s.keys.Save(r.Context(), key); err != nil {
		writeRepoError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, key.Ref())
}

// writeRepoError maps a repo.Error's Kind to the HTTP status the external
// interface contract specifies; unrecognized errors map to 500.
func writeRepoError(w http.ResponseWriter, err error) {
	var repoErr *repo.Error
	if !errors.As(err, &repoErr) {
		if errors.Is(err, keyring.ErrNotFound) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	switch repoErr.Kind {
	case repo.KindNotFound:
		httputil.WriteNotFoundError(w, repoErr.Error())
	case repo.KindConflict:
		httputil.WriteConflict(w, repoErr.Error())
	case repo.KindParse, repo.KindBadRequest:
		httputil.WriteBadRequest(w, repoErr.Error())
	case repo.KindDB, repo.KindIO, repo.KindBackend, repo.KindGeneratorFailed:
		httputil.WriteInternalError(w, repoErr)
	default:
		httputil.WriteInternalError(w, repoErr)
	}
}
