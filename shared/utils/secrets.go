package utils

import (
	"fmt"
	"os"
	"strings"
)

// ReadSecret читает секрет из файла в стандартном пути Docker Secrets.
func ReadSecret(secretName string) (string, error) {
	// Путь по умолчанию для Docker Secrets
	filePath := fmt.Sprintf("/run/secrets/%s", secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		// Не добавляем fallback на env var, чтобы поведение было консистентным
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// ReadSecretOrEnv читает секрет из файла, а при его отсутствии - из переменной
// окружения. Вариант для локальной разработки без Docker Secrets.
func ReadSecretOrEnv(secretName, envVar string) (string, error) {
	if secret, err := ReadSecret(secretName); err == nil {
		return secret, nil
	}
	if value := strings.TrimSpace(os.Getenv(envVar)); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secret file or env %s", secretName, envVar)
}
