package embed

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// DefaultMaxTokens bounds the sequence length fed to the text model.
const DefaultMaxTokens = 128

// batch is a tokenized, padded group of texts.
type batch struct {
	size   int
	seqLen int
	ids    []int64
	mask   []int64
}

type tokenizedModel struct {
	mu        sync.Mutex
	tok       *tokenizer.Tokenizer
	session   *ort.DynamicAdvancedSession
	maxTokens int
}

func newTokenizedModel(modelPath, tokenizerPath string, inputs, outputs []string, maxTokens, threads int) (*tokenizedModel, error) {
	tok, err := pretrained.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	opts, err := newSessionOptions(threads)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &tokenizedModel{tok: tok, session: session, maxTokens: maxTokens}, nil
}

func (m *tokenizedModel) encode(texts []string) (*batch, error) {
	inputs := make([]tokenizer.EncodeInput, len(texts))
	for i, t := range texts {
		inputs[i] = tokenizer.NewSingleEncodeInput(tokenizer.NewInputSequence(t))
	}

	encodings, err := m.tok.EncodeBatch(inputs, true)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}

	ids := make([][]int, len(encodings))
	masks := make([][]int, len(encodings))
	for i, enc := range encodings {
		ids[i] = truncateTokens(enc.GetIds(), m.maxTokens)
		masks[i] = truncateTokens(enc.GetAttentionMask(), m.maxTokens)
	}
	return padBatch(ids, masks), nil
}

func (m *tokenizedModel) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Destroy()
}

// truncateTokens keeps the first limit-1 tokens plus the closing special token.
func truncateTokens(tokens []int, limit int) []int {
	if len(tokens) <= limit {
		return tokens
	}
	out := make([]int, limit)
	copy(out, tokens[:limit-1])
	out[limit-1] = tokens[len(tokens)-1]
	return out
}

func padBatch(ids, masks [][]int) *batch {
	seqLen := 0
	for _, row := range ids {
		seqLen = max(seqLen, len(row))
	}

	b := &batch{
		size:   len(ids),
		seqLen: seqLen,
		ids:    make([]int64, len(ids)*seqLen),
		mask:   make([]int64, len(ids)*seqLen),
	}
	for i, row := range ids {
		offset := i * seqLen
		for j, id := range row {
			b.ids[offset+j] = int64(id)
			b.mask[offset+j] = int64(masks[i][j])
		}
	}
	return b
}

func (b *batch) shape() ort.Shape {
	return ort.NewShape(int64(b.size), int64(b.seqLen))
}

// MiniLMEncoder embeds text with a sentence-transformers MiniLM export.
type MiniLMEncoder struct {
	*tokenizedModel
}

func NewMiniLMEncoder(modelPath, tokenizerPath string, maxTokens, threads int) (*MiniLMEncoder, error) {
	m, err := newTokenizedModel(modelPath, tokenizerPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		maxTokens, threads)
	if err != nil {
		return nil, err
	}
	return &MiniLMEncoder{m}, nil
}

func (e *MiniLMEncoder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := e.encode(texts)
	if err != nil {
		return nil, err
	}

	idsTensor, err := ort.NewTensor(b.shape(), b.ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(b.shape(), b.mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(b.shape(), make([]int64, len(b.ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	e.mu.Lock()
	hidden, shape, err := runFloat(e.session, []ort.Value{idsTensor, maskTensor, typeTensor})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("unexpected last_hidden_state shape %v", shape)
	}

	vecs := meanPool(hidden, b.mask, b.size, int(shape[1]), int(shape[2]))
	for _, v := range vecs {
		l2Normalize(v)
	}
	return vecs, nil
}

// CLIPTextEncoder embeds text into the CLIP image space.
type CLIPTextEncoder struct {
	*tokenizedModel
}

// clipContextLength is the fixed text context of CLIP models.
const clipContextLength = 77

func NewCLIPTextEncoder(modelPath, tokenizerPath string, threads int) (*CLIPTextEncoder, error) {
	m, err := newTokenizedModel(modelPath, tokenizerPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		clipContextLength, threads)
	if err != nil {
		return nil, err
	}
	return &CLIPTextEncoder{m}, nil
}

func (e *CLIPTextEncoder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := e.encode(texts)
	if err != nil {
		return nil, err
	}

	idsTensor, err := ort.NewTensor(b.shape(), b.ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(b.shape(), b.mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	e.mu.Lock()
	data, shape, err := runFloat(e.session, []ort.Value{idsTensor, maskTensor})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return splitRows(data, shape, b.size)
}

// meanPool averages token vectors where mask is set. hidden is laid out as
// [batch, seqLen, dim].
func meanPool(hidden []float32, mask []int64, batchSize, seqLen, dim int) [][]float32 {
	out := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		vec := make([]float32, dim)
		var count float32
		for j := 0; j < seqLen; j++ {
			if mask[i*seqLen+j] == 0 {
				continue
			}
			count++
			row := hidden[(i*seqLen+j)*dim : (i*seqLen+j+1)*dim]
			for k, v := range row {
				vec[k] += v
			}
		}
		if count > 0 {
			for k := range vec {
				vec[k] /= count
			}
		}
		out[i] = vec
	}
	return out
}

// l2Normalize scales v to unit length in place. Zero vectors are left alone.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// splitRows turns a [n, dim] output into normalized per-row vectors.
func splitRows(data []float32, shape ort.Shape, n int) ([][]float32, error) {
	if len(shape) != 2 || int(shape[0]) != n {
		return nil, fmt.Errorf("unexpected embedding shape %v for %d inputs", shape, n)
	}
	dim := int(shape[1])
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		copy(out[i], data[i*dim:(i+1)*dim])
		l2Normalize(out[i])
	}
	return out, nil
}
