package config

type AppConfig struct {
	Hub    HubConfig
	Log    LogConfig
	Engine EngineConfig
	Push   PushConfig
}

func LoadApp() (AppConfig, error) {
	logCfg, err := LoadLog()
	if err != nil {
		_, err := LoadPush()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{}, err
	}
	hubCfg, err := LoadHub()
	if err != nil {
		_, err := LoadPush()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{}, err
	}
	engineCfg, err := LoadEngine()
	if err != nil {
		_, err := LoadPush()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{}, err
	}
	pushCfg, err := LoadPush()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Hub:    hubCfg,
		Log:    logCfg,
		Engine: engineCfg,
		Push:   pushCfg,
	}, nil
}
