package models

import "time"

// Order is the business payload relayed on the order flow. OrderNumber is the
// mandatory business key; the Kafka* fields are filled in during processing
// so downstream consumers can trace the delivery that produced the record.
type Order struct {
	OrderNumber      string     `json:"orderNumber"`
	Customer         string     `json:"customer"`
	Product          string     `json:"product"`
	Quantity         int        `json:"quantity"`
	TotalValue       float64    `json:"totalValue"`
	OrderedAt        time.Time  `json:"orderedAt"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
	ProcessingStatus string     `json:"processingStatus,omitempty"`
	KafkaTopic       string     `json:"kafkaTopic,omitempty"`
	KafkaPartition   int32      `json:"kafkaPartition,omitempty"`
	KafkaOffset      int64      `json:"kafkaOffset,omitempty"`
	KafkaTimestamp   *time.Time `json:"kafkaTimestamp,omitempty"`
}

// Invoice is the business payload relayed on the invoice flow. InvoiceNumber
// is the mandatory business key.
type Invoice struct {
	InvoiceNumber    string     `json:"invoiceNumber"`
	OrderNumber      string     `json:"orderNumber,omitempty"`
	Customer         string     `json:"customer"`
	Product          string     `json:"product"`
	Quantity         int        `json:"quantity"`
	TotalValue       float64    `json:"totalValue"`
	IssuedAt         time.Time  `json:"issuedAt"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
	ProcessingStatus string     `json:"processingStatus,omitempty"`
	KafkaTopic       string     `json:"kafkaTopic,omitempty"`
	KafkaPartition   int32      `json:"kafkaPartition,omitempty"`
	KafkaOffset      int64      `json:"kafkaOffset,omitempty"`
	KafkaTimestamp   *time.Time `json:"kafkaTimestamp,omitempty"`
}
