package domain

import "context"

// Rasterizer renders a PDF into one image file per page.
type Rasterizer interface {
	// Rasterize writes page images into opts.OutDir. The resulting file names
	// must sort into page order (see pdf.ListPageImages).
	Rasterize(ctx context.Context, pdfPath string, opts RasterOptions) error
}

// Inferencer sends one instruction plus one image to a hosted multimodal
// model and returns the model's text reply.
type Inferencer interface {
	Infer(ctx context.Context, req InferenceRequest) (string, error)
}

// Pipeline runs the complete PDF -> rows workflow.
type Pipeline interface {
	Process(ctx context.Context, pdfPath string, eventCh chan<- StreamEvent) (*ExtractionResult, error)
}
