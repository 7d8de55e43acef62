package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	ginSwagger "github.com/swaggo/gin-swagger"
	swaggerfiles "github.com/swaggo/files"

	"github.com/bake-hpc/bake"
	"github.com/bake-hpc/bake/provider"
)

// Server binds a set of providers to gin routes under /providers/:id,
// one id per registered provider.Provider, matching §6's
// "(endpoint_name, provider_id)" pair registration model.
type Server struct {
	router *gin.Engine

	mu        sync.RWMutex
	providers map[uint16]*provider.Provider
}

// NewServer constructs a Server with no providers registered, mounting
// the full route table once: every request's provider is resolved from
// the :id path segment at dispatch time, so Register never re-mounts
// routes and can be called any number of times. Register adds one.
func NewServer() *Server {
	s := &Server{
		router:    gin.Default(),
		providers: make(map[uint16]*provider.Provider),
	}
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	g := s.router.Group("/providers/:id")
	g.Use(s.resolveProvider())

	g.POST("/probe", s.probe)
	g.POST("/create", s.create)
	g.POST("/write", s.write)
	g.POST("/eager_write", s.eagerWrite)
	g.POST("/read", s.read)
	g.POST("/eager_read", s.eagerRead)
	g.POST("/persist", s.persist)
	g.POST("/create_write_persist", s.createWritePersist)
	g.POST("/eager_create_write_persist", s.eagerCreateWritePersist)
	g.GET("/size/:rid", s.getSize)
	g.GET("/data/:rid", s.getData)
	g.POST("/remove", s.remove)
	g.POST("/noop", s.noop)
	g.POST("/migrate_region", s.migrateRegion)
	g.POST("/migrate_target", s.migrateTarget)
	return s
}

// Register binds p under its own provider id (§6's "(endpoint_name,
// provider_id)" pair registration model). The route table itself is
// mounted once, in NewServer; Register only ever updates the id -> provider
// map, so registering any number of providers never re-declares a gin route.
func (s *Server) Register(p *provider.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
}

// Handler returns the underlying gin engine, e.g. for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// resolveProvider locates the per-request provider instance from the
// path's :id segment (§4.6 step 1: "Locates its provider instance via
// the RPC framework's per-endpoint data slot"); on an unparseable or
// unregistered id it responds unknown_provider without reaching the
// handler.
func (s *Server) resolveProvider() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 16)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, newErrorResponse(bake.NewError(bake.UnknownProvider, errUnknownProvider{c.Param("id")})))
			return
		}
		s.mu.RLock()
		p, ok := s.providers[uint16(id)]
		s.mu.RUnlock()
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, newErrorResponse(bake.NewError(bake.UnknownProvider, errUnknownProvider{c.Param("id")})))
			return
		}
		c.Set("provider", p)
		c.Next()
	}
}

type errUnknownProvider struct{ id string }

func (e errUnknownProvider) Error() string { return fmt.Sprintf("unknown provider %q", e.id) }

func providerFromContext(c *gin.Context) *provider.Provider {
	return c.MustGet("provider").(*provider.Provider)
}

// remoteAddr resolves step 5 of §4.6: if the request carries a proxy
// address, use it; otherwise duplicate the caller's address from the
// incoming connection. The handlers discard its result: bulk bytes always
// travel in the request or response body, so third-party bulk transfers
// are not supported.
func remoteAddr(c *gin.Context, requested string) string {
	if requested != "" {
		return requested
	}
	return c.ClientIP()
}

// probe godoc
// @Summary Return the provider's attached target ids
// @Description probe returns the current set of target ids without needing a specific target (§6 probe)
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body probeRequest true "probe request"
// @Success 200 {object} probeResponse
// @Router /providers/{id}/probe [post]
func (s *Server) probe(c *gin.Context) {
	var req probeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	ids := providerFromContext(c).Probe(req.MaxTargets)
	targets := make([]string, len(ids))
	for i, id := range ids {
		targets[i] = id.String()
	}
	c.JSON(http.StatusOK, probeResponse{Ret: int(bake.Success), NumTargets: uint64(len(targets)), Targets: targets})
}

// create godoc
// @Summary Allocate a fresh region
// @Description create(size) reserves a fresh region of the given size (§4.4 create)
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body createRequest true "create request"
// @Success 200 {object} createResponse
// @Router /providers/{id}/create [post]
func (s *Server) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	tid, err := bake.ParseTargetID(req.TargetID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	rid, err := providerFromContext(c).Create(c.Request.Context(), tid, req.RegionSize)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, createResponse{Ret: int(bake.Success), RID: rid.String()})
}

// write godoc
// @Summary Write into a region via the bulk path
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body writeRequest true "write request"
// @Success 200 {object} writeResponse
// @Router /providers/{id}/write [post]
func (s *Server) write(c *gin.Context) {
	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	rid, err := bake.ParseRegionID(req.RID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	_ = remoteAddr(c, req.RemoteAddr)
	remote := &memBulkEndpoint{data: req.BulkData}
	err = providerFromContext(c).Write(c.Request.Context(), rid, req.RegionOffset, uint64(len(req.BulkData)), remote)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, writeResponse{Ret: int(bake.Success)})
}

// eagerWrite godoc
// @Summary Write into a region via the inline path
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body eagerWriteRequest true "eager_write request"
// @Success 200 {object} eagerWriteResponse
// @Router /providers/{id}/eager_write [post]
func (s *Server) eagerWrite(c *gin.Context) {
	var req eagerWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	rid, err := bake.ParseRegionID(req.RID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	if err := providerFromContext(c).EagerWrite(c.Request.Context(), rid, req.RegionOffset, req.Buffer); err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, eagerWriteResponse{Ret: int(bake.Success)})
}

// read godoc
// @Summary Read from a region via the bulk path
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body readRequest true "read request"
// @Success 200 {object} readResponse
// @Router /providers/{id}/read [post]
func (s *Server) read(c *gin.Context) {
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	rid, err := bake.ParseRegionID(req.RID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	_ = remoteAddr(c, req.RemoteAddr)
	remote := &memBulkEndpoint{data: make([]byte, req.BulkSize)}
	n, err := providerFromContext(c).Read(c.Request.Context(), rid, req.RegionOffset, req.BulkSize, remote)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, readResponse{Ret: int(bake.Success), Size: n, BulkData: remote.data})
}

// eagerRead godoc
// @Summary Read from a region via the inline path
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body eagerReadRequest true "eager_read request"
// @Success 200 {object} eagerReadResponse
// @Router /providers/{id}/eager_read [post]
func (s *Server) eagerRead(c *gin.Context) {
	var req eagerReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	rid, err := bake.ParseRegionID(req.RID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	data, err := providerFromContext(c).EagerRead(c.Request.Context(), rid, req.RegionOffset, req.Size)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, eagerReadResponse{Ret: int(bake.Success), Size: uint32(len(data)), Buffer: data})
}

// persist godoc
// @Summary Durability barrier for a region
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body persistRequest true "persist request"
// @Success 200 {object} persistResponse
// @Router /providers/{id}/persist [post]
func (s *Server) persist(c *gin.Context) {
	var req persistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	rid, err := bake.ParseRegionID(req.RID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	if err := providerFromContext(c).Persist(c.Request.Context(), rid, req.Offset, req.Size); err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, persistResponse{Ret: int(bake.Success)})
}

// createWritePersist godoc
// @Summary create+write+persist, bulk path
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body createWritePersistRequest true "create_write_persist request"
// @Success 200 {object} createWritePersistResponse
// @Router /providers/{id}/create_write_persist [post]
func (s *Server) createWritePersist(c *gin.Context) {
	var req createWritePersistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	tid, err := bake.ParseTargetID(req.TargetID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	_ = remoteAddr(c, req.RemoteAddr)
	remote := &memBulkEndpoint{data: req.BulkData}
	rid, err := providerFromContext(c).CreateWritePersist(c.Request.Context(), tid, req.RegionSize, req.RegionOffset, uint64(len(req.BulkData)), remote)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, createWritePersistResponse{Ret: int(bake.Success), RID: rid.String()})
}

// eagerCreateWritePersist godoc
// @Summary create+write+persist, inline path
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body eagerCreateWritePersistRequest true "eager_create_write_persist request"
// @Success 200 {object} eagerCreateWritePersistResponse
// @Router /providers/{id}/eager_create_write_persist [post]
func (s *Server) eagerCreateWritePersist(c *gin.Context) {
	var req eagerCreateWritePersistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	tid, err := bake.ParseTargetID(req.TargetID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	rid, err := providerFromContext(c).EagerCreateWritePersist(c.Request.Context(), tid, req.Buffer)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, eagerCreateWritePersistResponse{Ret: int(bake.Success), RID: rid.String()})
}

// getSize godoc
// @Summary Report a region's reserved size
// @Tags bake
// @Produce json
// @Param id path int true "provider id"
// @Param rid path string true "region id, base64"
// @Success 200 {object} getSizeResponse
// @Router /providers/{id}/size/{rid} [get]
func (s *Server) getSize(c *gin.Context) {
	rid, err := bake.ParseRegionID(c.Param("rid"))
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	size, err := providerFromContext(c).GetSize(c.Request.Context(), rid)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, getSizeResponse{Ret: int(bake.Success), Size: size})
}

// getData godoc
// @Summary Server-local-only raw data accessor (§6 get_data)
// @Description Served on the same routes as the other operations; requests whose client IP is not 127.0.0.1 or ::1 are refused with 403 and OpUnsupported.
// @Tags bake
// @Produce json
// @Param id path int true "provider id"
// @Param rid path string true "region id, base64"
// @Success 200 {object} getDataResponse
// @Router /providers/{id}/data/{rid} [get]
func (s *Server) getData(c *gin.Context) {
	if !isLoopback(c.ClientIP()) {
		c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(bake.NewError(bake.OpUnsupported, errRemoteGetData{})))
		return
	}
	rid, err := bake.ParseRegionID(c.Param("rid"))
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	data, err := providerFromContext(c).GetData(c.Request.Context(), rid)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, getDataResponse{Ret: int(bake.Success), Data: data})
}

type errRemoteGetData struct{}

func (errRemoteGetData) Error() string { return "get_data is server-local only" }

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1"
}

// remove godoc
// @Summary Deallocate a region
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body persistRequest true "remove request (rid only)"
// @Success 200 {object} removeResponse
// @Router /providers/{id}/remove [post]
func (s *Server) remove(c *gin.Context) {
	var req struct {
		RID string `json:"rid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	rid, err := bake.ParseRegionID(req.RID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	if err := providerFromContext(c).Remove(c.Request.Context(), rid); err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, removeResponse{Ret: int(bake.Success)})
}

// noop godoc
// @Summary Acknowledge only, used for latency measurement
// @Tags bake
// @Produce json
// @Param id path int true "provider id"
// @Success 200 {object} noopResponse
// @Router /providers/{id}/noop [post]
func (s *Server) noop(c *gin.Context) {
	_ = providerFromContext(c).Noop(c.Request.Context())
	c.JSON(http.StatusOK, noopResponse{Ret: int(bake.Success)})
}

// migrateRegion godoc
// @Summary Hand a region off to a destination provider/target
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body migrateRegionRequest true "migrate_region request"
// @Success 200 {object} migrateRegionResponse
// @Router /providers/{id}/migrate_region [post]
func (s *Server) migrateRegion(c *gin.Context) {
	var req migrateRegionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	rid, err := bake.ParseRegionID(req.SourceRID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	destTID, err := bake.ParseTargetID(req.DestTargetID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	dst := bake.MigrationTarget{DestAddr: req.DestAddr, DestProviderID: req.DestProviderID, DestTargetID: destTID}
	destRid, err := providerFromContext(c).MigrateRegion(c.Request.Context(), rid, req.RegionSize, req.RemoveSrc, dst)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, migrateRegionResponse{Ret: int(bake.Success), DestID: destRid.String()})
}

// migrateTarget godoc
// @Summary Hand a whole target off to an external file-set shipping service
// @Tags bake
// @Accept json
// @Produce json
// @Param id path int true "provider id"
// @Param request body migrateTargetRequest true "migrate_target request"
// @Success 200 {object} migrateTargetResponse
// @Router /providers/{id}/migrate_target [post]
func (s *Server) migrateTarget(c *gin.Context) {
	var req migrateTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse(bake.NewError(bake.Mercury, err)))
		return
	}
	tid, err := bake.ParseTargetID(req.TargetID)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	err = providerFromContext(c).MigrateTarget(c.Request.Context(), tid, req.RemoveSrc, req.DestRemiAddr, req.DestRemiProviderID, req.DestRoot)
	if err != nil {
		c.JSON(http.StatusOK, newErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, migrateTargetResponse{Ret: int(bake.Success)})
}
