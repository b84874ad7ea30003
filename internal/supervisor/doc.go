// Package supervisor управляет жизненным циклом дочерних процессов пайплайна.
//
// Supervisor запускает extractor (и опционально loader), соединяет stdout
// extractor'а со stdin loader'а, следит за wall-clock таймаутом и сообщает
// о завершении. Вся активность процесса доставляется потребителю как
// упорядоченный поток событий (Event) через один канал — счётчики и буферы
// run'а мутируются ровно одной горутиной-потребителем.
//
// Бинарники проверяются по фиксированному allow-list до запуска; дочерние
// процессы получают явно собранное минимальное окружение, а не окружение
// оркестратора (в нём есть секреты, которые детям не положены).
package supervisor
