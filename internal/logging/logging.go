package logging

import (
	"log"
	"os"
)

func New(component string) *log.Logger {
	prefix := "janitor "
	if component != "" {
		prefix = "janitor " + component + " "
	}
	return log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds|log.LUTC)
}
