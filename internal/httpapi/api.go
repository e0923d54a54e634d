// Package httpapi serves the particle pipeline and the record stores over
// HTTP for the web front end.
//
// Routes:
//
//	GET    /healthz
//	POST   /process_images/analyze_all/            multipart images[], description, performed_by, device, calibration_id, coefficient, division_price
//	POST   /api/calibrations/execute/              multipart image, division_price, name, microscope
//	GET    /api/calibrations/
//	POST   /api/calibrations/save/
//	GET    /api/calibrations/:id/                  also :id/load/
//	DELETE /api/calibrations/:id/delete/
//	GET    /api/researches/
//	POST   /api/researches/save/
//	GET    /api/researches/:id/                    also :id/load/
//	GET    /api/researches/:id/distribution/       ?metric=area&max_bars=100
//	DELETE /api/researches/:id/delete/
//
// Errors are JSON objects of the form {"error": "..."}.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ironsheep/particle-tools-mcp/internal/batch"
	"github.com/ironsheep/particle-tools-mcp/internal/calibration"
	"github.com/ironsheep/particle-tools-mcp/internal/config"
	"github.com/ironsheep/particle-tools-mcp/internal/imaging"
	"github.com/ironsheep/particle-tools-mcp/internal/particle"
	"github.com/ironsheep/particle-tools-mcp/internal/store"
	log "github.com/sirupsen/logrus"
)

// API holds the handlers' dependencies.
type API struct {
	cfg        *config.Config
	analyzer   *batch.Analyzer
	calibrator *calibration.Engine
	store      store.Store
}

// New builds the API. sink may be nil.
func New(cfg *config.Config, st store.Store, sink imaging.ArtifactSink) *API {
	pipeline := batch.NewPipeline(cfg.Pipeline)
	calibrator := calibration.NewEngine(cfg.Calibration, pipeline.Normalizer)
	calibrator.Sink = sink

	return &API{
		cfg:        cfg,
		analyzer:   batch.NewAnalyzer(pipeline, batch.WithWorkers(cfg.Pipeline.Workers), batch.WithArtifacts(sink)),
		calibrator: calibrator,
		store:      st,
	}
}

// Router returns the gin engine with every route registered.
func (a *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/process_images/analyze_all/", a.analyzeAll)

	calibrations := router.Group("/api/calibrations")
	calibrations.GET("/", a.listCalibrations)
	calibrations.POST("/execute/", a.executeCalibration)
	calibrations.POST("/save/", a.saveCalibration)
	calibrations.GET("/:id/", a.getCalibration)
	calibrations.GET("/:id/load/", a.getCalibration)
	calibrations.DELETE("/:id/delete/", a.deleteCalibration)
	calibrations.POST("/:id/delete/", a.deleteCalibration)

	researches := router.Group("/api/researches")
	researches.GET("/", a.listResearches)
	researches.POST("/save/", a.saveResearch)
	researches.GET("/:id/", a.getResearch)
	researches.GET("/:id/load/", a.getResearch)
	researches.GET("/:id/distribution/", a.researchDistribution)
	researches.DELETE("/:id/delete/", a.deleteResearch)
	researches.POST("/:id/delete/", a.deleteResearch)

	return router
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (a *API) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: a.Router()}

	errs := make(chan error, 1)
	go func() {
		log.WithField("address", addr).Info("[HTTP] listening")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
		return nil
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("[HTTP] request")
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidRecord),
		errors.Is(err, imaging.ErrInvalidImage),
		errors.Is(err, batch.ErrNoReadableImages),
		errors.Is(err, batch.ErrUnknownMetric):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.WithField("path", c.Request.URL.Path).WithError(err).Error("[HTTP] request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, format string, args ...interface{}) {
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(format, args...)})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id %q", c.Param("id"))
		return 0, false
	}
	return id, true
}

// formFloat reads an optional finite, non-negative number from the form.
func formFloat(c *gin.Context, key string) (float64, bool) {
	raw := c.PostForm(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		badRequest(c, "invalid %s %q", key, raw)
		return 0, false
	}
	return v, true
}

// uploadSource decodes an uploaded file when the analyzer asks for it.
type uploadSource struct {
	header *multipart.FileHeader
}

func (u uploadSource) Name() string {
	return filepath.Base(u.header.Filename)
}

func (u uploadSource) Image() (image.Image, error) {
	f, err := u.header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", u.Name(), err)
	}
	defer f.Close()
	return imaging.Decode(f, u.Name())
}

func (a *API) divisionPrice(v float64) float64 {
	if v > 0 {
		return v
	}
	return a.cfg.Calibration.DivisionPrice
}

func (a *API) analyzeAll(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil || len(form.File["images[]"]) == 0 {
		badRequest(c, "images are missing")
		return
	}

	coefficient, ok := formFloat(c, "coefficient")
	if !ok {
		return
	}
	price, ok := formFloat(c, "division_price")
	if !ok {
		return
	}

	profile := particle.Uncalibrated()
	device := c.PostForm("device")
	if raw := c.PostForm("calibration_id"); raw != "" && raw != "0" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid calibration_id %q", raw)
			return
		}
		cal, err := a.store.GetCalibration(c.Request.Context(), id)
		if err != nil {
			fail(c, fmt.Errorf("calibration %d: %w", id, err))
			return
		}
		profile = cal.Profile()
		if device == "" {
			device = cal.Microscope
		}
	} else if coefficient > 0 {
		profile = particle.NewProfile(coefficient, a.divisionPrice(price))
	}

	files := form.File["images[]"]
	sources := make([]batch.Source, len(files))
	for i, fh := range files {
		sources[i] = uploadSource{header: fh}
	}

	res, err := a.analyzer.Analyze(c.Request.Context(), sources, profile)
	if err != nil {
		fail(c, err)
		return
	}

	body := gin.H{
		"results": gin.H{
			"run_id":      res.RunID,
			"contours":    res.Measurements,
			"averages":    res.Averages,
			"images":      res.Images,
			"calibration": res.Profile,
		},
	}

	if description := c.PostForm("description"); description != "" {
		r := store.NewResearch(description, c.PostForm("performed_by"), device, res)
		if err := a.store.SaveResearch(c.Request.Context(), r); err != nil {
			fail(c, err)
			return
		}
		body["research_id"] = r.ID
	}

	c.JSON(http.StatusOK, body)
}

func (a *API) executeCalibration(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "image is missing")
		return
	}
	price, ok := formFloat(c, "division_price")
	if !ok {
		return
	}
	price = a.divisionPrice(price)

	src := uploadSource{header: fh}
	img, err := src.Image()
	if err != nil {
		fail(c, err)
		return
	}

	res, err := a.calibrator.CalibrateImage(src.Name(), img)
	if err != nil {
		fail(c, err)
		return
	}

	body := gin.H{
		"coefficient":    res.Coefficient,
		"strip_count":    res.StripCount,
		"positions":      res.Positions,
		"division_price": price,
	}

	if name := c.PostForm("name"); name != "" {
		if !res.Calibrated() {
			badRequest(c, "cannot save calibration %q: %d strips found, need at least 2", name, res.StripCount)
			return
		}
		cal := &store.Calibration{
			Name:          name,
			Microscope:    c.PostForm("microscope"),
			Mode:          particle.ModeAutomatic,
			Coefficient:   res.Coefficient,
			DivisionPrice: price,
		}
		if err := a.store.SaveCalibration(c.Request.Context(), cal); err != nil {
			fail(c, err)
			return
		}
		body["id"] = cal.ID
	}

	c.JSON(http.StatusOK, body)
}

func (a *API) listCalibrations(c *gin.Context) {
	list, err := a.store.ListCalibrations(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (a *API) saveCalibration(c *gin.Context) {
	var cal store.Calibration
	if err := c.ShouldBindJSON(&cal); err != nil {
		badRequest(c, "invalid calibration: %v", err)
		return
	}
	if err := a.store.SaveCalibration(c.Request.Context(), &cal); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cal)
}

func (a *API) getCalibration(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	cal, err := a.store.GetCalibration(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calibration": cal})
}

func (a *API) deleteCalibration(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := a.store.DeleteCalibration(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (a *API) listResearches(c *gin.Context) {
	list, err := a.store.ListResearches(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type saveResearchRequest struct {
	ID          int64                  `json:"id"`
	Description string                 `json:"description"`
	PerformedBy string                 `json:"performed_by"`
	Device      string                 `json:"device"`
	Averages    *batch.Averages        `json:"averages"`
	Contours    []particle.Measurement `json:"contours"`
}

func (a *API) saveResearch(c *gin.Context) {
	var req saveResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid research: %v", err)
		return
	}

	r := &store.Research{
		ID:          req.ID,
		Description: req.Description,
		PerformedBy: req.PerformedBy,
		Device:      req.Device,
		Contours:    req.Contours,
	}
	if req.Averages != nil {
		r.Averages = *req.Averages
	} else {
		r.Averages = batch.ComputeAverages(req.Contours)
	}

	if err := a.store.SaveResearch(c.Request.Context(), r); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": r.ID})
}

func (a *API) getResearch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := a.store.GetResearch(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (a *API) researchDistribution(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	metric, err := batch.ParseMetric(c.DefaultQuery("metric", string(batch.MetricArea)))
	if err != nil {
		fail(c, err)
		return
	}
	maxBars := batch.DefaultMaxBars
	if raw := c.Query("max_bars"); raw != "" {
		maxBars, err = strconv.Atoi(raw)
		if err != nil || maxBars <= 0 {
			badRequest(c, "invalid max_bars %q", raw)
			return
		}
	}

	r, err := a.store.GetResearch(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"metric": metric,
		"bars":   batch.Distribution(r.Contours, metric, maxBars),
	})
}

func (a *API) deleteResearch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := a.store.DeleteResearch(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
