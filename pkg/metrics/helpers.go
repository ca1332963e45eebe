package metrics

import (
	"time"
)

// stopwatch - общая часть таймеров операций
type stopwatch struct {
	service string
	start   time.Time
}

func startStopwatch(service string) stopwatch {
	return stopwatch{service: service, start: time.Now()}
}

func (s stopwatch) seconds() float64 {
	return time.Since(s.start).Seconds()
}

type RedisOperation string

const (
	RedisOpGet    RedisOperation = "get"
	RedisOpSet    RedisOperation = "set"
	RedisOpDel    RedisOperation = "del"
	RedisOpExists RedisOperation = "exists"
)

type RedisTimer struct {
	stopwatch
	operation RedisOperation
}

func NewRedisTimer(service string, op RedisOperation) *RedisTimer {
	return &RedisTimer{stopwatch: startStopwatch(service), operation: op}
}

// Done фиксирует длительность; redis.Nil ошибкой не считается, его передавать не нужно
func (rt *RedisTimer) Done(err error) {
	RedisOperationDuration.WithLabelValues(rt.service, string(rt.operation)).Observe(rt.seconds())
	if err != nil {
		RedisErrors.WithLabelValues(rt.service, string(rt.operation)).Inc()
	}
}

// RecordCache учитывает попадание или промах кеша по префиксу ключа
func RecordCache(service, keyPrefix string, hit bool) {
	if hit {
		RedisCacheHits.WithLabelValues(service, keyPrefix).Inc()
		return
	}
	RedisCacheMisses.WithLabelValues(service, keyPrefix).Inc()
}

func RecordKafkaMessageConsumed(service, topic, group string, processingDuration time.Duration) {
	KafkaMessagesConsumed.WithLabelValues(service, topic, group).Inc()
	KafkaConsumeDuration.WithLabelValues(service, topic).Observe(processingDuration.Seconds())
}

// RecordKafkaError - operation: produce, fetch, decode, process, commit
func RecordKafkaError(service, topic, operation string) {
	KafkaErrors.WithLabelValues(service, topic, operation).Inc()
}

type KafkaProduceTimer struct {
	stopwatch
	topic string
}

func NewKafkaProduceTimer(service, topic string) *KafkaProduceTimer {
	return &KafkaProduceTimer{stopwatch: startStopwatch(service), topic: topic}
}

func (kt *KafkaProduceTimer) Done(err error) {
	if err != nil {
		RecordKafkaError(kt.service, kt.topic, "produce")
		return
	}
	KafkaMessagesProduced.WithLabelValues(kt.service, kt.topic).Inc()
	KafkaProduceDuration.WithLabelValues(kt.service, kt.topic).Observe(kt.seconds())
}

type DbOperation string

const (
	DbOpSelect    DbOperation = "select"
	DbOpInsert    DbOperation = "insert"
	DbOpUpdate    DbOperation = "update"
	DbOpDelete    DbOperation = "delete"
	DbOpAggregate DbOperation = "aggregate"
)

// DbTimer замеряет одну операцию; table - коллекция MongoDB или таблица PostgreSQL
type DbTimer struct {
	stopwatch
	operation DbOperation
	table     string
}

func NewDbTimer(service string, op DbOperation, table string) *DbTimer {
	return &DbTimer{stopwatch: startStopwatch(service), operation: op, table: table}
}

func (dt *DbTimer) Done(err error) {
	DbQueryDuration.WithLabelValues(dt.service, string(dt.operation), dt.table).Observe(dt.seconds())
	if err != nil {
		DbErrors.WithLabelValues(dt.service, string(dt.operation)).Inc()
	}
}
