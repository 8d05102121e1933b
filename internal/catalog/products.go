package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ErrUnavailable marks a catalog store failure. It must stay distinguishable
// from an empty result so callers never confuse an outage with "no matching
// products".
var ErrUnavailable = errors.New("catalog unavailable")

// ErrEmptySkinType is returned when the self-report lookup receives a blank
// skin type.
var ErrEmptySkinType = errors.New("skin type is required")

// fetchLimit bounds every catalog query.
const fetchLimit = 100

// Product is the stable projection of a catalog row. Missing fields decode
// to empty strings, never null.
type Product struct {
	SkinConcern string `bson:"skin_concern" json:"skin_concern"`
	Name        string `bson:"product" json:"product"`
	Type        string `bson:"type" json:"type"`
	Ingredients string `bson:"ingredients" json:"ingredients"`
	Reviews     string `bson:"reviews" json:"reviews"`
	Price       string `bson:"price" json:"price"`
}

func (p *Product) trim() {
	p.SkinConcern = strings.TrimSpace(p.SkinConcern)
	p.Name = strings.TrimSpace(p.Name)
	p.Type = strings.TrimSpace(p.Type)
	p.Ingredients = strings.TrimSpace(p.Ingredients)
	p.Reviews = strings.TrimSpace(p.Reviews)
	p.Price = strings.TrimSpace(p.Price)
}

// ProductRepository queries the product collection by concern label.
type ProductRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewProductRepository creates a repository over the given database.
func NewProductRepository(db *mongo.Database, logger *zap.Logger) *ProductRepository {
	return &ProductRepository{
		collection: db.Collection("products"),
		logger:     logger.Named("product_repository"),
	}
}

// ConcernFilter builds the "concern equals any of these labels,
// case-insensitive" predicate. An empty label set yields ok=false: issuing a
// filter with zero conditions would match the whole collection, which is
// explicitly undesired.
func ConcernFilter(labels []string) (bson.M, bool) {
	if len(labels) == 0 {
		return nil, false
	}
	patterns := make([]primitive.Regex, 0, len(labels))
	for _, label := range labels {
		patterns = append(patterns, primitive.Regex{
			Pattern: "^" + regexp.QuoteMeta(strings.TrimSpace(label)) + "$",
			Options: "i",
		})
	}
	return bson.M{"skin_concern": bson.M{"$in": patterns}}, true
}

// SkinTypeFilter builds the "concern ends with '<type> Skin'" predicate used
// by the self-report recommendation lookup. A trailing " skin" in the input
// is tolerated so both "Oily" and "Oily Skin" resolve to the same pattern.
func SkinTypeFilter(skinType string) (bson.M, error) {
	t := strings.TrimSpace(skinType)
	switch lower := strings.ToLower(t); {
	case lower == "skin":
		t = ""
	case strings.HasSuffix(lower, " skin"):
		t = strings.TrimSpace(t[:len(t)-len(" skin")])
	}
	if t == "" {
		return nil, ErrEmptySkinType
	}
	pattern := regexp.QuoteMeta(t) + ` skin$`
	return bson.M{"skin_concern": primitive.Regex{Pattern: pattern, Options: "i"}}, nil
}

// FindByConcerns fetches up to fetchLimit rows whose concern field matches
// any of the detected labels. An empty label set short-circuits without
// touching the store.
func (r *ProductRepository) FindByConcerns(ctx context.Context, labels []string) ([]Product, error) {
	filter, ok := ConcernFilter(labels)
	if !ok {
		return []Product{}, nil
	}
	products, err := r.find(ctx, filter)
	if err != nil {
		return nil, err
	}
	r.logger.Info("catalog matched", zap.Strings("labels", labels), zap.Int("products", len(products)))
	return products, nil
}

// FindBySkinType fetches rows for a user-reported skin type, independent of
// image analysis.
func (r *ProductRepository) FindBySkinType(ctx context.Context, skinType string) ([]Product, error) {
	filter, err := SkinTypeFilter(skinType)
	if err != nil {
		return nil, err
	}
	products, err := r.find(ctx, filter)
	if err != nil {
		return nil, err
	}
	r.logger.Info("catalog matched by skin type", zap.String("skin_type", skinType), zap.Int("products", len(products)))
	return products, nil
}

func (r *ProductRepository) find(ctx context.Context, filter bson.M) ([]Product, error) {
	opts := options.Find().
		SetLimit(fetchLimit).
		SetProjection(bson.M{
			"skin_concern": 1,
			"product":      1,
			"type":         1,
			"ingredients":  1,
			"reviews":      1,
			"price":        1,
		})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("catalog query failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer cursor.Close(ctx) //nolint:errcheck

	products := []Product{}
	if err := cursor.All(ctx, &products); err != nil {
		r.logger.Error("catalog decode failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for i := range products {
		products[i].trim()
	}
	return products, nil
}
