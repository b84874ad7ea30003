package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source — конфигурация источника данных.
//
// Управление источниками (CRUD, шифрование credentials, визуальный
// конструктор) — внешняя по отношению к оркестратору зона. Здесь хранится
// ровно то, что нужно для запуска пайплайна: какой tap, с каким конфигом
// и какой loader подключать.
type Source struct {
	// ID — уникальный идентификатор источника.
	ID uuid.UUID `json:"id"`

	// Name — человекочитаемое имя источника.
	Name string `json:"name"`

	// TapType — имя extractor-бинарника из allow-list.
	TapType string `json:"tap_type"`

	// Config — конфигурация tap'а (материализуется в config.json).
	Config json.RawMessage `json:"config"`

	// LoaderType — имя loader-бинарника из allow-list.
	// Пустая строка — sync без loader'а.
	LoaderType string `json:"loader_type,omitempty"`

	// LoaderConfig — конфигурация loader'а.
	LoaderConfig json.RawMessage `json:"loader_config,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}
