package domain

import "testing"

func TestQuery_IsEmpty(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{"empty text", NewTextQuery(""), true},
		{"whitespace text", NewTextQuery(" \n\t"), true},
		{"text", NewTextQuery("s3 static website"), false},
		{"empty image", NewImageQuery(nil), true},
		{"image", NewImageQuery([]byte{0x89, 0x50}), false},
		{"zero value", Query{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewImageQuery_CopiesData(t *testing.T) {
	data := []byte{1, 2, 3}
	q := NewImageQuery(data)
	data[0] = 9
	if q.Data()[0] != 1 {
		t.Error("image query shares caller buffer")
	}
	if q.Modality() != ModalityImage {
		t.Errorf("Modality() = %q", q.Modality())
	}
	if q.String() != "image(3 bytes)" {
		t.Errorf("String() = %q", q.String())
	}
}

func TestCollection_Validate(t *testing.T) {
	valid := Collection{Name: "docs", VectorField: "content_vector", Dimensions: 4, Metric: MetricCosine}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []Collection{
		{VectorField: "v", Dimensions: 4, Metric: MetricCosine},
		{Name: "docs", Dimensions: 4, Metric: MetricCosine},
		{Name: "docs", VectorField: "v", Metric: MetricCosine},
		{Name: "docs", VectorField: "v", Dimensions: 4, Metric: "hamming"},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestMetric_RequiresUnitVectors(t *testing.T) {
	if !MetricInnerProduct.RequiresUnitVectors() {
		t.Error("inner product should require unit vectors")
	}
	if MetricCosine.RequiresUnitVectors() || MetricL2.RequiresUnitVectors() {
		t.Error("cosine/l2 should not require unit vectors")
	}
}
