package audit

/*
Trail — асинхронный конвейер записи журнала оценок (Audit Trail).

- Non-blocking Logging: hot path движка только кладет запись в канал,
  задержки Postgres не влияют на время ответа Evaluate.
- Batching: записи копятся в памяти и уходят пакетной вставкой по таймеру
  или при достижении лимита пачки.
- Drain Pattern: при остановке сервиса канал закрывается, воркер дочитывает
  остатки и делает финальный flush — записи не теряются при перезагрузке.
- Retry: кратковременные сбои БД гасятся ограниченным числом повторов.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
)

const batchSize = 100

// Storage определяет, куда физически сохраняются записи
type Storage interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []domain.AuditLogEntry) error
}

type Trail struct {
	ch            chan domain.AuditLogEntry
	repo          Storage
	logger        *zap.Logger
	wg            sync.WaitGroup
	flushInterval time.Duration
	bufferFill    prometheus.Gauge // может быть nil
	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Log после Stop
	isClosed int32
}

func NewTrail(repo Storage, logger *zap.Logger, bufferSize int, flushInterval time.Duration, bufferFill prometheus.Gauge) *Trail {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:            make(chan domain.AuditLogEntry, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit-trail")),
		flushInterval: flushInterval,
		bufferFill:    bufferFill,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

// Log ставит запись в очередь. Не блокирует: при переполнении буфера
// запись сбрасывается в обычный лог (Load Shedding), а не теряется молча.
func (t *Trail) Log(entry domain.AuditLogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit entry dropped: trail is stopping", zap.String("id", entry.ID))
		return
	}

	select {
	case t.ch <- entry:
		if t.bufferFill != nil {
			t.bufferFill.Set(float64(len(t.ch)))
		}
	default:
		// Backpressure: буфер полон, фиксируем инцидент в логгере
		t.logger.Error("audit_buffer_overflow",
			zap.String("id", entry.ID),
			zap.String("action", entry.Action),
			zap.String("resource", entry.Resource),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]domain.AuditLogEntry, 0, batchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к моменту финального flush
		// может быть уже закрыт
		r := retry.New(
			retry.Context(context.Background()),
			retry.Attempts(3),
		)
		err := r.Do(func() error {
			return t.repo.WriteBatch(context.Background(), batch)
		})
		if err != nil {
			t.logger.Error("audit flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): воркер уже вычитал остатки
				// очереди, остался финальный сброс
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
