package usecase

import (
	"github.com/example/skin-advisor/internal/catalog"
	"github.com/example/skin-advisor/internal/vision"
)

// AnalysisResponse is the outward payload of one analysis request. Product
// order is the catalog fetch order; no further transformation happens here.
type AnalysisResponse struct {
	RequestID           string            `json:"request_id"`
	FaceDetected        bool              `json:"face_detected"`
	Message             string            `json:"message"`
	Landmarks           *vision.Landmarks `json:"landmarks,omitempty"`
	Analysis            ConcernMap        `json:"analysis"`
	RecommendedProducts []catalog.Product `json:"recommended_products"`
}

func composeResponse(requestID string, scan *vision.FaceScan, concerns ConcernMap, products []catalog.Product) *AnalysisResponse {
	if products == nil {
		products = []catalog.Product{}
	}
	return &AnalysisResponse{
		RequestID:           requestID,
		FaceDetected:        true,
		Message:             "Face detected successfully",
		Landmarks:           &scan.Landmarks,
		Analysis:            concerns,
		RecommendedProducts: products,
	}
}

// composeNoFaceResponse is the soft-success negative outcome: downstream
// fields are empty and the ensemble and catalog stages never ran.
func composeNoFaceResponse(requestID string) *AnalysisResponse {
	return &AnalysisResponse{
		RequestID:           requestID,
		FaceDetected:        false,
		Message:             "No face detected",
		Analysis:            ConcernMap{},
		RecommendedProducts: []catalog.Product{},
	}
}
