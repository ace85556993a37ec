// Package bedrock implements embedding backends on Amazon Bedrock InvokeModel.
//
// Supported model families are selected by model ID prefix:
// amazon.titan-embed-text (text), amazon.titan-embed-image (text and image)
// and amazon.nova (multimodal, text and image).
package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragtools/internal/domain"
	"github.com/kailas-cloud/ragtools/internal/metrics"
)

var _ domain.EmbeddingBackend = (*Embedder)(nil)

// invoker is the subset of the Bedrock runtime client used here.
type invoker interface {
	InvokeModel(
		ctx context.Context, in *bedrockruntime.InvokeModelInput, opts ...func(*bedrockruntime.Options),
	) (*bedrockruntime.InvokeModelOutput, error)
}

type family int

const (
	familyTitanText family = iota
	familyTitanImage
	familyNova
)

func familyOf(modelID string) (family, error) {
	switch {
	case strings.HasPrefix(modelID, "amazon.titan-embed-text"):
		return familyTitanText, nil
	case strings.HasPrefix(modelID, "amazon.titan-embed-image"):
		return familyTitanImage, nil
	case strings.HasPrefix(modelID, "amazon.nova"):
		return familyNova, nil
	default:
		return 0, fmt.Errorf("unsupported bedrock model %q", modelID)
	}
}

// Config holds Bedrock embedding settings.
type Config struct {
	Region     string
	Profile    string
	Model      string
	Dimensions int
	Logger     *zap.Logger
}

// Embedder calls one Bedrock embedding model.
type Embedder struct {
	client     invoker
	model      string
	family     family
	dimensions int
	logger     *zap.Logger
}

// NewEmbedder loads AWS credentials from the default chain and builds an embedder.
func NewEmbedder(ctx context.Context, cfg *Config) (*Embedder, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newEmbedder(bedrockruntime.NewFromConfig(awsCfg), cfg)
}

func newEmbedder(client invoker, cfg *Config) (*Embedder, error) {
	fam, err := familyOf(cfg.Model)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{
		client:     client,
		model:      cfg.Model,
		family:     fam,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}, nil
}

// Dimensions returns the configured output dimension.
func (e *Embedder) Dimensions() int { return e.dimensions }

// Supports reports whether the model family accepts the modality.
func (e *Embedder) Supports(m domain.Modality) bool {
	if m == domain.ModalityText {
		return true
	}
	return m == domain.ModalityImage && e.family != familyTitanText
}

// UnitLength is true for Titan models, which normalize by default. Nova output is raw.
func (e *Embedder) UnitLength() bool { return e.family != familyNova }

// Embed invokes the model once and decodes the first embedding.
func (e *Embedder) Embed(ctx context.Context, q domain.Query) (domain.EmbeddingResult, error) {
	if !e.Supports(q.Modality()) {
		return domain.EmbeddingResult{}, fmt.Errorf("%s on %s: %w", q.Modality(), e.model, domain.ErrUnsupportedModality)
	}

	body, err := e.requestBody(q)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("encode request: %w", err)
	}

	start := time.Now()
	out, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("bedrock", e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues("bedrock", e.model, "api_error").Inc()
		e.logger.Debug("bedrock invoke failed", zap.String("model", e.model), zap.Error(err))
		return domain.EmbeddingResult{}, fmt.Errorf("invoke %s: %v: %w", e.model, err, domain.ErrEmbeddingProviderError)
	}

	res, err := e.decode(out.Body)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("bedrock", e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues("bedrock", e.model, "bad_response").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("decode %s response: %v: %w", e.model, err, domain.ErrEmbeddingProviderError)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues("bedrock", e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues("bedrock", e.model).Observe(duration.Seconds())
	if res.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues("bedrock", e.model).Add(float64(res.TotalTokens))
	}
	return res, nil
}

func (e *Embedder) requestBody(q domain.Query) ([]byte, error) {
	switch e.family {
	case familyTitanText:
		req := titanTextRequest{InputText: q.Text()}
		if e.dimensions > 0 {
			req.Dimensions = e.dimensions
			req.Normalize = aws.Bool(true)
		}
		return json.Marshal(req)

	case familyTitanImage:
		req := titanImageRequest{}
		if q.Modality() == domain.ModalityImage {
			req.InputImage = base64.StdEncoding.EncodeToString(q.Data())
		} else {
			req.InputText = q.Text()
		}
		if e.dimensions > 0 {
			req.EmbeddingConfig = &titanEmbeddingConfig{OutputEmbeddingLength: e.dimensions}
		}
		return json.Marshal(req)

	default:
		params := novaParams{
			EmbeddingPurpose:   "GENERIC_RETRIEVAL",
			EmbeddingDimension: e.dimensions,
		}
		if q.Modality() == domain.ModalityImage {
			params.Image = &novaImage{
				Format: imageFormat(q.Data()),
				Source: novaSource{Bytes: base64.StdEncoding.EncodeToString(q.Data())},
			}
		} else {
			params.Text = &novaText{TruncationMode: "END", Value: q.Text()}
		}
		return json.Marshal(novaRequest{TaskType: "SINGLE_EMBEDDING", SingleEmbeddingParams: params})
	}
}

func (e *Embedder) decode(body []byte) (domain.EmbeddingResult, error) {
	if e.family == familyNova {
		var resp novaResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return domain.EmbeddingResult{}, err
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
			return domain.EmbeddingResult{}, errors.New("empty embedding")
		}
		return domain.EmbeddingResult{Embedding: resp.Embeddings[0].Embedding}, nil
	}

	var resp titanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.EmbeddingResult{}, err
	}
	if len(resp.Embedding) == 0 {
		return domain.EmbeddingResult{}, errors.New("empty embedding")
	}
	return domain.EmbeddingResult{Embedding: resp.Embedding, TotalTokens: resp.InputTextTokenCount}, nil
}

// imageFormat maps sniffed content types to Nova image formats; unknown data is sent as png.
func imageFormat(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpeg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
