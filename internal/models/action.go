package models

// Action кнопка действия под сообщением бота. Ядро не зависит от
// транспорта: либо callback с Data, либо внешняя ссылка URL.
type Action struct {
	Label string // Текст кнопки
	Data  string // callback data, взаимоисключимо с URL
	URL   string // Внешняя ссылка
}
