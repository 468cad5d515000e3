package reference

// Fixture описывает один файл с данными: записи одной модели, которые
// подаются в Store.Insert как payload.
type Fixture struct {
	Name    string           `yaml:"name"`
	Model   string           `yaml:"model"`
	Order   int              `yaml:"order,omitempty"` // меньше - раньше
	Records []map[string]any `yaml:"records"`

	// Путь к файлу, из которого прочитан фикстур
	Source string `yaml:"-"`
}

// SeedReport: сколько записей каждой модели прошло через Insert.
type SeedReport struct {
	Fixtures int            `json:"fixtures"`
	Records  map[string]int `json:"records"`
}
