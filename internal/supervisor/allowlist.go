package supervisor

import "fmt"

// Фиксированный allow-list исполняемых бинарников пайплайна.
// Всё вне этого списка отклоняется до какого-либо запуска процесса.
var (
	allowedExtractors = map[string]bool{
		"tap-rest-api":         true,
		"tap-rest-api-generic": true,
		"tap-dynamics365-erp":  true,
	}

	allowedLoaders = map[string]bool{
		"target-confluent-kafka": true,
		"target-jsonl":           true,
	}
)

// ValidateExtractor проверяет имя extractor-бинарника по allow-list.
func ValidateExtractor(binary string) error {
	if !allowedExtractors[binary] {
		return fmt.Errorf("%w: extractor %q", ErrBinaryNotAllowed, binary)
	}
	return nil
}

// ValidateLoader проверяет имя loader-бинарника по allow-list.
func ValidateLoader(binary string) error {
	if !allowedLoaders[binary] {
		return fmt.Errorf("%w: loader %q", ErrBinaryNotAllowed, binary)
	}
	return nil
}
