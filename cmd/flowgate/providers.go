package main

// Notifier adapters register themselves via init().
import (
	_ "github.com/Strob0t/flowgate/internal/adapter/slack"
	_ "github.com/Strob0t/flowgate/internal/adapter/telegram"
)
