package domain

import (
	"fmt"
	"slices"
)

// Metric is the distance metric a collection was indexed with.
type Metric string

const (
	// MetricCosine is cosine similarity.
	MetricCosine Metric = "cosine"
	// MetricInnerProduct is dot-product similarity; vectors must be unit length.
	MetricInnerProduct Metric = "inner_product"
	// MetricL2 is Euclidean distance.
	MetricL2 Metric = "l2"
)

// IsValid reports whether m is a supported metric.
func (m Metric) IsValid() bool {
	return m == MetricCosine || m == MetricInnerProduct || m == MetricL2
}

// RequiresUnitVectors reports whether query vectors must be normalized for this metric.
func (m Metric) RequiresUnitVectors() bool {
	return m == MetricInnerProduct
}

// Collection describes a search collection. It is created during setup and read-only afterwards.
type Collection struct {
	Name        string
	VectorField string
	Dimensions  int
	Metric      Metric
	// Fields are the retrievable source fields in display order.
	Fields []string
	// IDField, when set, names the source field used as the hit identifier.
	IDField string
}

// Validate checks that the descriptor is usable.
func (c *Collection) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if c.VectorField == "" {
		return fmt.Errorf("collection %s: vector field is required", c.Name)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("collection %s: dimensions must be positive", c.Name)
	}
	if !c.Metric.IsValid() {
		return fmt.Errorf("collection %s: unknown metric %q", c.Name, c.Metric)
	}
	return nil
}

// HasField reports whether name is a retrievable field of the collection.
func (c *Collection) HasField(name string) bool {
	return slices.Contains(c.Fields, name)
}
