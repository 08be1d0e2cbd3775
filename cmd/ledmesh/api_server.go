package main

import (
	"strconv"

	"github.com/galdor/go-ledmesh/pkg/ledmesh"
	"github.com/galdor/go-ledmesh/pkg/pattern"
	"github.com/galdor/go-service/pkg/shttp"
)

type APIServer struct {
	Service *Service
}

type PatternSettings struct {
	Pattern  string           `json:"pattern"`
	Settings pattern.Settings `json:"settings"`
}

func NewAPIServer(s *Service) (*APIServer, error) {
	api := APIServer{
		Service: s,
	}

	return &api, nil
}

func (api *APIServer) Init() error {
	api.initRoutes()
	return nil
}

func (api *APIServer) initRoutes() {
	api.Route("/status", "GET", api.hStatusGET)
	api.Route("/resync", "POST", api.hResyncPOST)
	api.Route("/mode/:mode", "PUT", api.hModePUT)
	api.Route("/brightness/:value", "PUT", api.hBrightnessPUT)
	api.Route("/ota/suspend", "POST", api.hOTASuspendPOST)
	api.Route("/ota/resume", "POST", api.hOTAResumePOST)

	api.Route("/patterns", "GET", api.hPatternsGET)
	api.Route("/patterns/:pattern", "PUT", api.hPatternPUT)
	api.Route("/patterns/:pattern/select", "POST", api.hPatternSelectPOST)

	api.Route("/metrics", "GET", api.hMetricsGET)
}

func (api *APIServer) Route(pathPattern, method string, routeFunc shttp.RouteFunc) {
	s := api.Service.Service.HTTPServer("api")
	s.Route(pathPattern, method, routeFunc)
}

func (api *APIServer) hStatusGET(h *shttp.Handler) {
	status := api.Service.node.Status()
	h.ReplyJSON(200, status)
}

func (api *APIServer) hResyncPOST(h *shttp.Handler) {
	api.Service.node.ForceResync()
	h.ReplyEmpty(204)
}

func (api *APIServer) hModePUT(h *shttp.Handler) {
	mode := ledmesh.Mode(h.PathVariable("mode"))

	if err := api.Service.node.SetMode(mode); err != nil {
		h.ReplyError(400, "invalidMode", "%v", err)
		return
	}

	h.ReplyEmpty(204)
}

func (api *APIServer) hBrightnessPUT(h *shttp.Handler) {
	value := h.PathVariable("value")

	i, err := strconv.ParseUint(value, 10, 8)
	if err != nil {
		h.ReplyError(400, "invalidBrightness",
			"brightness must be an integer between 0 and 255")
		return
	}

	api.Service.node.SetBrightness(uint8(i))
	h.ReplyEmpty(204)
}

func (api *APIServer) hOTASuspendPOST(h *shttp.Handler) {
	api.Service.node.SuspendMesh()
	h.ReplyEmpty(204)
}

func (api *APIServer) hOTAResumePOST(h *shttp.Handler) {
	api.Service.node.ResumeMesh()
	h.ReplyEmpty(204)
}

func (api *APIServer) hPatternsGET(h *shttp.Handler) {
	mode := api.Service.selector.Mode

	var patterns []PatternSettings
	for _, id := range pattern.Ids() {
		key := pattern.Key{Mode: mode, Pattern: id}

		patterns = append(patterns, PatternSettings{
			Pattern:  id.String(),
			Settings: api.Service.settings.Get(key),
		})
	}

	h.ReplyJSON(200, patterns)
}

func (api *APIServer) hPatternPUT(h *shttp.Handler) {
	id, err := pattern.ParseId(h.PathVariable("pattern"))
	if err != nil {
		h.ReplyError(404, "unknownPattern", "%v", err)
		return
	}

	var settings pattern.Settings
	if err := h.JSONRequestData(&settings); err != nil {
		return
	}

	key := pattern.Key{Mode: api.Service.selector.Mode, Pattern: id}

	if err := api.Service.settings.Put(key, settings); err != nil {
		h.ReplyError(400, "invalidSettings", "%v", err)
		return
	}

	h.ReplyEmpty(204)
}

func (api *APIServer) hPatternSelectPOST(h *shttp.Handler) {
	id, err := pattern.ParseId(h.PathVariable("pattern"))
	if err != nil {
		h.ReplyError(404, "unknownPattern", "%v", err)
		return
	}

	if err := api.Service.selector.Select(id); err != nil {
		h.ReplyError(400, "invalidPattern", "%v", err)
		return
	}

	h.ReplyEmpty(204)
}

func (api *APIServer) hMetricsGET(h *shttp.Handler) {
	handler := api.Service.node.Metrics.Handler()
	handler.ServeHTTP(h.ResponseWriter, h.Request)
}
