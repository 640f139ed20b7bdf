package logging

import (
	"go.uber.org/zap"
)

type impl struct {
	*zap.SugaredLogger
	name string
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = imp.name + "." + subname
	}
	// zap joins names itself so only the new segment is passed on.
	return &impl{imp.SugaredLogger.Named(subname), newName}
}

func (imp *impl) Desugar() *zap.Logger {
	return imp.SugaredLogger.Desugar()
}

func (imp *impl) Sync() error {
	return imp.SugaredLogger.Sync()
}
