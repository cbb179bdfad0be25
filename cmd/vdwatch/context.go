package main

import (
	"strings"
	"sync"

	"github.com/1broseidon/vdwatch/internal/config"
	"github.com/1broseidon/vdwatch/internal/ipc"
)

type commandContext struct {
	socketFlag *string
	configFlag *string

	loadOnce sync.Once
	loaded   *config.LoadResult
	loadErr  error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) configPath() (string, error) {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path, nil
		}
	}
	return config.DefaultConfigPath()
}

func (c *commandContext) loadConfig() (*config.LoadResult, error) {
	c.loadOnce.Do(func() {
		path, err := c.configPath()
		if err != nil {
			c.loadErr = err
			return
		}
		c.loaded, c.loadErr = config.LoadFromPath(path)
	})
	return c.loaded, c.loadErr
}

func (c *commandContext) socketPath() string {
	if c.socketFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.socketFlag)
}

func (c *commandContext) client() *ipc.Client {
	if socket := c.socketPath(); socket != "" {
		return ipc.NewClientWithSocket(socket)
	}
	return ipc.NewClient()
}
