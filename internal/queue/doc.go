// Package queue defines the job descriptors exchanged between the API
// (producer) and the job executor (consumer), and the at-least-once
// queue contract that carries them. MemoryQueue is the in-process
// implementation; the Kafka-backed one lives in internal/platform/kafka.
package queue
