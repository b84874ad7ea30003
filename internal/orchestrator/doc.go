// Package orchestrator управляет запуском пайплайнов.
//
// Orchestrator — центральный компонент системы, который:
//   - Принимает запросы на sync и discovery
//   - Держит gate конкурентности (один активный run на источник)
//   - Материализует конфиги run'а на диск и запускает процессы
//   - Потребляет поток событий процесса одной горутиной на run
//   - Классифицирует протокольные строки, ведёт счётчики и буферы
//   - Транслирует события наблюдателям и финализирует run ровно один раз
//
// Вся мутация состояния run'а (счётчики, лог, сэмплы, чекпоинт)
// принадлежит горутине-потребителю этого run'а; чтение с других
// горутин идёт через Snapshot.
package orchestrator
