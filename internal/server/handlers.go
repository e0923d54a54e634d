package server

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"path/filepath"

	"github.com/ironsheep/particle-tools-mcp/internal/batch"
	"github.com/ironsheep/particle-tools-mcp/internal/calibration"
	"github.com/ironsheep/particle-tools-mcp/internal/detection"
	"github.com/ironsheep/particle-tools-mcp/internal/imaging"
	"github.com/ironsheep/particle-tools-mcp/internal/particle"
	"github.com/ironsheep/particle-tools-mcp/internal/store"
	log "github.com/sirupsen/logrus"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_load", "particles_analyze").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		log.WithField("tool", params.Name).WithError(err).Warn("[MCP] tool failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Basic Image Information
	case "image_load":
		return s.handleImageLoad(args)
	case "image_dimensions":
		return s.handleImageDimensions(args)

	// Pipeline Stages
	case "particles_contrast":
		return s.handleParticlesContrast(args)
	case "particles_contours":
		return s.handleParticlesContours(args)
	case "particles_analyze":
		return s.handleParticlesAnalyze(ctx, args)
	case "particles_distribution":
		return s.handleParticlesDistribution(ctx, args)

	// Calibration
	case "calibration_execute":
		return s.handleCalibrationExecute(ctx, args)
	case "calibration_save":
		return s.handleCalibrationSave(ctx, args)
	case "calibration_list":
		return s.handleCalibrationList(ctx)
	case "calibration_get":
		return s.handleCalibrationGet(ctx, args)
	case "calibration_delete":
		return s.handleCalibrationDelete(ctx, args)

	// Researches
	case "research_list":
		return s.handleResearchList(ctx)
	case "research_get":
		return s.handleResearchGet(ctx, args)
	case "research_delete":
		return s.handleResearchDelete(ctx, args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// pipelineWith returns the configured pipeline with optional extractor
// overrides. The normalizer is shared.
func (s *Server) pipelineWith(minArea *float64, excludeBoundary *bool) (*batch.Pipeline, error) {
	extractor := *s.pipeline.Extractor
	if minArea != nil {
		if *minArea < 0 {
			return nil, fmt.Errorf("min_area must not be negative")
		}
		extractor.MinArea = *minArea
	}
	if excludeBoundary != nil {
		extractor.ExcludeBoundary = *excludeBoundary
	}
	return &batch.Pipeline{Normalizer: s.pipeline.Normalizer, Extractor: &extractor}, nil
}

func (s *Server) divisionPrice(v float64) float64 {
	if v > 0 {
		return v
	}
	return s.cfg.Calibration.DivisionPrice
}

// resolveProfile picks the conversion for a batch: a saved calibration wins
// over an inline coefficient; neither means pixels.
func (s *Server) resolveProfile(ctx context.Context, calibrationID int64, coefficient, divisionPrice float64) (particle.CalibrationProfile, *store.Calibration, error) {
	if calibrationID != 0 {
		c, err := s.store.GetCalibration(ctx, calibrationID)
		if err != nil {
			return particle.CalibrationProfile{}, nil, fmt.Errorf("calibration %d: %w", calibrationID, err)
		}
		return c.Profile(), c, nil
	}
	if coefficient < 0 {
		return particle.CalibrationProfile{}, nil, fmt.Errorf("coefficient must not be negative")
	}
	if coefficient > 0 {
		return particle.NewProfile(coefficient, s.divisionPrice(divisionPrice)), nil, nil
	}
	return particle.Uncalibrated(), nil, nil
}

// === Basic Image Information Handlers ===

type imageLoadArgs struct {
	Path string `json:"path"`
}

func (a imageLoadArgs) validate() error {
	if a.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

func (s *Server) handleImageLoad(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

func (s *Server) handleImageDimensions(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return imaging.GetDimensions(s.cache, a.Path)
}

// === Pipeline Stage Handlers ===

type contrastResult struct {
	Image     *imaging.ImageResult     `json:"image"`
	Intensity imaging.IntensitySummary `json:"intensity"`
}

func (s *Server) handleParticlesContrast(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}

	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	normalized, err := s.pipeline.Normalizer.NormalizeImage(img)
	if err != nil {
		return nil, err
	}

	encoded, err := imaging.EncodePNG(normalized)
	if err != nil {
		return nil, err
	}
	return &contrastResult{
		Image:     encoded,
		Intensity: imaging.SummarizeIntensity(normalized, int(s.pipeline.Extractor.Threshold)),
	}, nil
}

type contoursArgs struct {
	Path            string   `json:"path"`
	MinArea         *float64 `json:"min_area"`
	ExcludeBoundary *bool    `json:"exclude_boundary"`
}

type contoursResult struct {
	Count int                    `json:"count"`
	Stats detection.ExtractStats `json:"stats"`
	Image *imaging.ImageResult   `json:"image"`
}

func (s *Server) handleParticlesContours(args json.RawMessage) (interface{}, error) {
	var a contoursArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	p, err := s.pipelineWith(a.MinArea, a.ExcludeBoundary)
	if err != nil {
		return nil, err
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	f, err := p.Process(img)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	overlay, err := p.Render(batch.StageContours, f)
	if err != nil {
		return nil, err
	}
	encoded, err := imaging.EncodePNG(overlay)
	if err != nil {
		return nil, err
	}
	return &contoursResult{Count: len(f.Contours), Stats: f.Stats, Image: encoded}, nil
}

type researchMeta struct {
	Description string `json:"description"`
	PerformedBy string `json:"performed_by"`
	Device      string `json:"device"`
}

type analyzeArgs struct {
	Paths           []string      `json:"paths"`
	CalibrationID   int64         `json:"calibration_id"`
	Coefficient     float64       `json:"coefficient"`
	DivisionPrice   float64       `json:"division_price"`
	MinArea         *float64      `json:"min_area"`
	ExcludeBoundary *bool         `json:"exclude_boundary"`
	SaveResearch    *researchMeta `json:"save_research"`
}

type analyzeResult struct {
	*batch.Result
	ResearchID int64 `json:"research_id,omitempty"`
}

func (s *Server) handleParticlesAnalyze(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a analyzeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if len(a.Paths) == 0 {
		return nil, fmt.Errorf("paths must name at least one image")
	}
	if a.SaveResearch != nil && a.SaveResearch.Description == "" {
		return nil, fmt.Errorf("save_research.description is required")
	}

	profile, cal, err := s.resolveProfile(ctx, a.CalibrationID, a.Coefficient, a.DivisionPrice)
	if err != nil {
		return nil, err
	}
	p, err := s.pipelineWith(a.MinArea, a.ExcludeBoundary)
	if err != nil {
		return nil, err
	}

	sources := make([]batch.Source, len(a.Paths))
	for i, path := range a.Paths {
		sources[i] = s.cache.Source(path)
	}

	analyzer := batch.NewAnalyzer(p, batch.WithWorkers(s.cfg.Pipeline.Workers), batch.WithArtifacts(s.sink))
	res, err := analyzer.Analyze(ctx, sources, profile)
	if err != nil {
		return nil, err
	}

	out := &analyzeResult{Result: res}
	if a.SaveResearch != nil {
		meta := *a.SaveResearch
		if meta.Device == "" && cal != nil {
			meta.Device = cal.Microscope
		}
		r := store.NewResearch(meta.Description, meta.PerformedBy, meta.Device, res)
		if err := s.store.SaveResearch(ctx, r); err != nil {
			return nil, fmt.Errorf("failed to save research: %w", err)
		}
		out.ResearchID = r.ID
	}
	return out, nil
}

type distributionArgs struct {
	ResearchID int64  `json:"research_id"`
	Metric     string `json:"metric"`
	MaxBars    int    `json:"max_bars"`
}

type distributionResult struct {
	ResearchID int64        `json:"research_id"`
	Metric     batch.Metric `json:"metric"`
	Particles  int          `json:"particles"`
	Bars       []batch.Bar  `json:"bars"`
}

func (s *Server) handleParticlesDistribution(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a distributionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	metric, err := batch.ParseMetric(a.Metric)
	if err != nil {
		return nil, err
	}
	if a.MaxBars < 0 {
		return nil, fmt.Errorf("max_bars must not be negative")
	}
	if a.MaxBars == 0 {
		a.MaxBars = batch.DefaultMaxBars
	}

	r, err := s.store.GetResearch(ctx, a.ResearchID)
	if err != nil {
		return nil, fmt.Errorf("research %d: %w", a.ResearchID, err)
	}
	return &distributionResult{
		ResearchID: r.ID,
		Metric:     metric,
		Particles:  len(r.Contours),
		Bars:       batch.Distribution(r.Contours, metric, a.MaxBars),
	}, nil
}

// === Calibration Handlers ===

type calibrationExecuteArgs struct {
	Path          string  `json:"path"`
	DivisionPrice float64 `json:"division_price"`
	Annotate      bool    `json:"annotate"`
	SaveAs        string  `json:"save_as"`
	Microscope    string  `json:"microscope"`
}

type calibrationExecuteResult struct {
	*calibration.Result
	DivisionPrice float64              `json:"division_price"`
	CalibrationID int64                `json:"calibration_id,omitempty"`
	Image         *imaging.ImageResult `json:"image,omitempty"`
}

func (s *Server) handleCalibrationExecute(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a calibrationExecuteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if a.DivisionPrice < 0 {
		return nil, fmt.Errorf("division_price must not be negative")
	}

	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	res, err := s.calibrator.CalibrateImage(filepath.Base(a.Path), img)
	if err != nil {
		return nil, err
	}

	out := &calibrationExecuteResult{Result: res, DivisionPrice: s.divisionPrice(a.DivisionPrice)}

	if a.Annotate {
		out.Image, err = renderCalibration(img, res)
		if err != nil {
			return nil, err
		}
	}

	if a.SaveAs != "" {
		if !res.Calibrated() {
			return nil, fmt.Errorf("cannot save calibration %q: %d strips found, need at least 2", a.SaveAs, res.StripCount)
		}
		c := &store.Calibration{
			Name:          a.SaveAs,
			Microscope:    a.Microscope,
			Mode:          particle.ModeAutomatic,
			Coefficient:   res.Coefficient,
			DivisionPrice: out.DivisionPrice,
		}
		if err := s.store.SaveCalibration(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to save calibration: %w", err)
		}
		out.CalibrationID = c.ID
	}
	return out, nil
}

func renderCalibration(img image.Image, res *calibration.Result) (*imaging.ImageResult, error) {
	src, err := imaging.ToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	annotated, err := calibration.Render(src, res)
	if err != nil {
		return nil, err
	}
	defer annotated.Close()

	out, err := imaging.FromMat(annotated)
	if err != nil {
		return nil, err
	}
	return imaging.EncodePNG(out)
}

type calibrationSaveArgs struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Microscope    string  `json:"microscope"`
	Mode          string  `json:"mode"`
	Coefficient   float64 `json:"coefficient"`
	DivisionPrice float64 `json:"division_price"`
}

func (s *Server) handleCalibrationSave(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a calibrationSaveArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	c := &store.Calibration{
		ID:            a.ID,
		Name:          a.Name,
		Microscope:    a.Microscope,
		Mode:          particle.Mode(a.Mode),
		Coefficient:   a.Coefficient,
		DivisionPrice: a.DivisionPrice,
	}
	if err := s.store.SaveCalibration(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

type idArgs struct {
	ID int64 `json:"id"`
}

func parseID(args json.RawMessage) (int64, error) {
	var a idArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return 0, err
	}
	if a.ID <= 0 {
		return 0, fmt.Errorf("id must be positive")
	}
	return a.ID, nil
}

type deletedResult struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) handleCalibrationList(ctx context.Context) (interface{}, error) {
	list, err := s.store.ListCalibrations(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"calibrations": list}, nil
}

func (s *Server) handleCalibrationGet(ctx context.Context, args json.RawMessage) (interface{}, error) {
	id, err := parseID(args)
	if err != nil {
		return nil, err
	}
	c, err := s.store.GetCalibration(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("calibration %d: %w", id, err)
	}
	return c, nil
}

func (s *Server) handleCalibrationDelete(ctx context.Context, args json.RawMessage) (interface{}, error) {
	id, err := parseID(args)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteCalibration(ctx, id); err != nil {
		return nil, fmt.Errorf("calibration %d: %w", id, err)
	}
	return &deletedResult{Deleted: id}, nil
}

// === Research Handlers ===

func (s *Server) handleResearchList(ctx context.Context) (interface{}, error) {
	list, err := s.store.ListResearches(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"researches": list}, nil
}

func (s *Server) handleResearchGet(ctx context.Context, args json.RawMessage) (interface{}, error) {
	id, err := parseID(args)
	if err != nil {
		return nil, err
	}
	r, err := s.store.GetResearch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("research %d: %w", id, err)
	}
	return r, nil
}

func (s *Server) handleResearchDelete(ctx context.Context, args json.RawMessage) (interface{}, error) {
	id, err := parseID(args)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteResearch(ctx, id); err != nil {
		return nil, fmt.Errorf("research %d: %w", id, err)
	}
	return &deletedResult{Deleted: id}, nil
}
