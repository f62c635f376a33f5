package qa

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kikiluvv/framewise/internal/embed"
	"github.com/kikiluvv/framewise/internal/metrics"
	"github.com/kikiluvv/framewise/internal/store"
	"github.com/kikiluvv/framewise/pkg/util"
	"github.com/rs/zerolog"
)

// DefaultNumResults is the number of frames retrieved per question.
const DefaultNumResults = 5

// NoContextAnswer is returned when nothing relevant is indexed.
const NoContextAnswer = "I couldn't find any frames in the indexed videos that relate to this question."

const systemPrompt = `You answer questions about tutorial videos using the keyframes provided.
Each frame lists its timestamp, why it was captured and what was being said at that moment.
Answer step by step when the question asks how to do something, cite timestamps like [00:01:23]
and say so plainly when the frames do not contain the answer.`

// QueryEmbedder turns a question into search vectors.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) (embed.QueryVectors, error)
}

// Retriever finds frames for query vectors.
type Retriever interface {
	Search(ctx context.Context, q store.Query) ([]store.Result, error)
}

// Answer is the response to one question.
type Answer struct {
	Question      string         `json:"question"`
	Text          string         `json:"answer"`
	Frames        []store.Result `json:"relevant_frames"`
	NumFramesUsed int            `json:"num_frames_used"`
}

// Options tune retrieval and prompting.
type Options struct {
	NumResults    int
	SearchType    store.SearchType
	IncludeImages bool
}

// Assistant answers questions over the frame index.
type Assistant struct {
	logger    zerolog.Logger
	embedder  QueryEmbedder
	retriever Retriever
	chat      ChatModel
	opts      Options
	readFile  func(string) ([]byte, error)
}

func NewAssistant(logger zerolog.Logger, embedder QueryEmbedder, retriever Retriever, chat ChatModel, opts Options) *Assistant {
	if opts.NumResults <= 0 {
		opts.NumResults = DefaultNumResults
	}
	if opts.SearchType == "" {
		opts.SearchType = store.SearchHybrid
	}
	return &Assistant{
		logger:    logger.With().Str("component", "qa").Logger(),
		embedder:  embedder,
		retriever: retriever,
		chat:      chat,
		opts:      opts,
		readFile:  os.ReadFile,
	}
}

// Ask retrieves the frames most relevant to question and has the chat model
// answer from them. numResults <= 0 uses the configured default.
func (a *Assistant) Ask(ctx context.Context, question string, numResults int) (*Answer, error) {
	ans, err := a.ask(ctx, question, numResults)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case ans.NumFramesUsed == 0:
		status = "no_context"
	}
	metrics.QuestionsTotal.WithLabelValues(status).Inc()
	return ans, err
}

func (a *Assistant) ask(ctx context.Context, question string, numResults int) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is empty")
	}
	if numResults <= 0 {
		numResults = a.opts.NumResults
	}

	vecs, err := a.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	frames, err := a.retriever.Search(ctx, store.Query{
		Text:  vecs.Text,
		Image: vecs.Image,
		Type:  a.opts.SearchType,
		Limit: numResults,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	ans := &Answer{Question: question, Frames: frames, NumFramesUsed: len(frames)}
	if len(frames) == 0 {
		ans.Text = NoContextAnswer
		return ans, nil
	}

	req := ChatRequest{
		System: systemPrompt,
		User:   buildPrompt(question, frames),
	}
	if a.opts.IncludeImages {
		req.Images = a.frameImages(frames)
	}

	a.logger.Debug().
		Str("question", question).
		Int("frames", len(frames)).
		Int("images", len(req.Images)).
		Msg("asking model")

	text, err := a.chat.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ans.Text = text
	return ans, nil
}

// buildPrompt lays out the retrieved frames as numbered context blocks.
func buildPrompt(question string, frames []store.Result) string {
	var b strings.Builder
	b.WriteString("Relevant frames from the video:\n\n")
	for i, f := range frames {
		fmt.Fprintf(&b, "[Frame %d] video: %s, time: %s, captured for: %s\n",
			i+1, f.VideoPath, util.FormatSeconds(f.Timestamp), f.Reason)
		text := strings.TrimSpace(f.Text)
		if text == "" {
			text = "(no speech)"
		}
		fmt.Fprintf(&b, "Transcript: %s\n\n", text)
	}
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}

// frameImages inlines readable frame JPEGs as data URLs, skipping the rest.
func (a *Assistant) frameImages(frames []store.Result) []string {
	var urls []string
	for _, f := range frames {
		data, err := a.readFile(f.FramePath)
		if err != nil {
			a.logger.Warn().Err(err).Str("frame", f.FramePath).Msg("frame image unavailable")
			continue
		}
		urls = append(urls, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(data))
	}
	return urls
}
