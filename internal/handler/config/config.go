package config

type Config struct {
	ServerAddr string `env:"RUN_ADDRESS" envDefault:":8080"`
	// Подпись callback. Пустое значение отключает проверку
	CallbackSecret string `env:"CALLBACK_SECRET"`
}
