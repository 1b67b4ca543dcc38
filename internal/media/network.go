package media

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

type Quality string

const (
	QualityGood    Quality = "good"
	QualityWeak    Quality = "weak"
	QualityOffline Quality = "offline"
)

// DefaultSampleInterval — период обновления индикатора сети.
const DefaultSampleInterval = 8 * time.Second

var qualityPattern = []Quality{QualityGood, QualityGood, QualityGood, QualityWeak, QualityGood}

// Sample — показание индикатора. Simulated всегда true: реального транспорта нет.
type Sample struct {
	Quality   Quality `json:"quality"`
	Simulated bool    `json:"simulated"`
	At        int64   `json:"at"`
}

// NetworkMonitor выдаёт случайное «качество сети» для индикатора звонка.
type NetworkMonitor struct {
	interval time.Duration
	now      func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewNetworkMonitor(interval time.Duration, seed uint64) *NetworkMonitor {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &NetworkMonitor{
		interval: interval,
		now:      time.Now,
		rnd:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Sample — одно показание: offline с вероятностью 1/10, иначе из шаблона good/weak.
func (m *NetworkMonitor) Sample() Sample {
	m.mu.Lock()
	q := QualityOffline
	if m.rnd.IntN(10) != 0 {
		q = qualityPattern[m.rnd.IntN(len(qualityPattern))]
	}
	m.mu.Unlock()
	return Sample{Quality: q, Simulated: true, At: m.now().UnixMilli()}
}

// Run вызывает emit каждые interval до отмены ctx.
func (m *NetworkMonitor) Run(ctx context.Context, emit func(Sample)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit(m.Sample())
		}
	}
}
