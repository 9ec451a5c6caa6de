package inference

import (
	"fmt"
	"sync/atomic"

	"github.com/brensch/sigmazero/rules"
)

// OnnxPool fans out Predict calls across multiple OnnxClient instances.
// Each client has its own batching loop and ORT session, so several batches
// can run on the GPU at once.
type OnnxPool struct {
	clients []*OnnxClient
	rr      atomic.Uint64
}

func (p *OnnxPool) Stats() RuntimeStats {
	var out RuntimeStats
	for _, c := range p.clients {
		st := c.Stats()
		out.TotalBatches += st.TotalBatches
		out.TotalItems += st.TotalItems
		out.TotalRunNanos += st.TotalRunNanos
		out.QueueLen += st.QueueLen
		if st.LastBatchSize > out.LastBatchSize {
			out.LastBatchSize = st.LastBatchSize
		}
	}
	if out.TotalBatches > 0 {
		out.AvgBatchSize = float64(out.TotalItems) / float64(out.TotalBatches)
		out.AvgRunMs = (float64(out.TotalRunNanos) / 1e6) / float64(out.TotalBatches)
	}
	return out
}

func NewOnnxClientPool(modelPath string, sessions int) (*OnnxPool, error) {
	return NewOnnxClientPoolWithConfig(modelPath, sessions, OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout})
}

func NewOnnxClientPoolWithConfig(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	clients := make([]*OnnxClient, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewOnnxClientWithConfig(modelPath, cfg)
		if err != nil {
			for _, created := range clients {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		clients = append(clients, c)
	}

	return &OnnxPool{clients: clients}, nil
}

func (p *OnnxPool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *OnnxPool) Predict(state *rules.State) ([]float32, float32, error) {
	if len(p.clients) == 0 {
		return nil, 0, fmt.Errorf("onnx pool has no clients")
	}
	idx := int(p.rr.Add(1)-1) % len(p.clients)
	return p.clients[idx].Predict(state)
}
