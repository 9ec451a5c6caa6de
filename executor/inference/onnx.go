package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/sigmazero/executor/convert"
	"github.com/brensch/sigmazero/rules"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	InputSize  = convert.FloatSize
	PolicySize = rules.ActionSpace
	ValueSize  = 1
)

const (
	DefaultBatchSize    = 128
	DefaultBatchTimeout = 1 * time.Millisecond
)

// ErrClientClosed is returned by Predict after Close.
var ErrClientClosed = errors.New("onnx client closed")

type OnnxClientConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	// DisableCUDA keeps the session on the CPU provider.
	DisableCUDA bool
}

// RuntimeStats summarizes batching behaviour for the progress display.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

type inferenceRequest struct {
	input    []float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy []float32
	value  float32
	err    error
}

// OnnxClient implements the inference engine using ONNX Runtime with batching.
// The model takes input [B, 3, 9, 9] and returns policy [B, 81] and value
// [B, 1], where value is from the perspective of the side to move.
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	done         chan struct{}
	loopDone     chan struct{}
	release      func() error
	closeOnce    sync.Once
	cfg          OnnxClientConfig

	totalBatches  atomic.Int64
	totalItems    atomic.Int64
	totalRunNanos atomic.Int64
	lastBatchSize atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout})
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}

	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			candidates := []string{
				"libonnxruntime.so",
				"libonnxruntime.so.1",
			}
			for _, name := range candidates {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	inputs := []string{"input"}
	outputs := []string{"policy", "value"}

	// Many workers share the process, keep each session single threaded.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if !cfg.DisableCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn().Err(err).Msg("failed to append CUDA provider")
			} else {
				log.Info().Msg("CUDA provider enabled")
			}
		} else {
			log.Warn().Err(err).Msg("failed to create CUDA options")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	client := &OnnxClient{
		session:      session,
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		release:      session.Destroy,
	}

	go client.batchLoop()

	return client, nil
}

func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	// CUDA shared libraries installed by pip into the project's .venv.
	candidateDirs := []string{cwd}
	patterns := []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "onnxruntime", "capi"),
	}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		candidateDirs = append(candidateDirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	existingSet := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p != "" {
			existingSet[p] = true
		}
	}

	toAdd := make([]string, 0, len(candidateDirs))
	for _, d := range candidateDirs {
		if existingSet[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			toAdd = append(toAdd, d)
		}
	}
	if len(toAdd) == 0 {
		return
	}

	newVal := strings.Join(toAdd, ":")
	if existing != "" {
		newVal = newVal + ":" + existing
	}
	_ = os.Setenv("LD_LIBRARY_PATH", newVal)
}

// Close stops the batching loop and releases the session. A batch already
// running finishes before the session is destroyed.
func (c *OnnxClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.loopDone
		err = c.release()
	})
	return err
}

// Stats reports batching counters.
func (c *OnnxClient) Stats() RuntimeStats {
	batches := c.totalBatches.Load()
	items := c.totalItems.Load()
	runNanos := c.totalRunNanos.Load()
	st := RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: c.lastBatchSize.Load(),
		QueueLen:      len(c.requestsChan),
	}
	if batches > 0 {
		st.AvgBatchSize = float64(items) / float64(batches)
		st.AvgRunMs = (float64(runNanos) / 1e6) / float64(batches)
	}
	return st
}

// Predict queues the state for the next batch and waits for the result. The
// returned value is negated so it scores the player who moved into state.
func (c *OnnxClient) Predict(state *rules.State) ([]float32, float32, error) {
	floats := make([]float32, InputSize)
	state.EncodeFeatures(floats)

	respChan := make(chan inferenceResponse, 1)
	select {
	case c.requestsChan <- inferenceRequest{input: floats, respChan: respChan}:
	case <-c.done:
		return nil, 0, ErrClientClosed
	}

	select {
	case resp := <-respChan:
		return resp.policy, -resp.value, resp.err
	case <-c.done:
		return nil, 0, ErrClientClosed
	}
}

func (c *OnnxClient) batchLoop() {
	defer close(c.loopDone)

	batchInput := make([]float32, 0, c.cfg.BatchSize*InputSize)
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		c.runBatch(requests, batchInput)
		requests = requests[:0]
		batchInput = batchInput[:0]
	}

	for {
		select {
		case <-c.done:
			c.failBatch(requests, ErrClientClosed)
			return
		case req := <-c.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)
			if len(requests) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			if len(requests) > 0 {
				flush()
			}
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, batchInput []float32) {
	start := time.Now()
	currentBatchSize := int64(len(requests))

	inputShape := ort.NewShape(currentBatchSize, int64(convert.Channels), int64(convert.Height), int64(convert.Width))
	inputTensor, err := ort.NewTensor(inputShape, batchInput)
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(currentBatchSize, PolicySize))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(currentBatchSize, ValueSize))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
		c.failBatch(requests, err)
		return
	}

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()

	for i, req := range requests {
		policy := make([]float32, PolicySize)
		copy(policy, policyData[i*PolicySize:(i+1)*PolicySize])
		req.respChan <- inferenceResponse{
			policy: policy,
			value:  valueData[i*ValueSize],
		}
	}

	c.totalBatches.Add(1)
	c.totalItems.Add(currentBatchSize)
	c.totalRunNanos.Add(time.Since(start).Nanoseconds())
	c.lastBatchSize.Store(currentBatchSize)
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
