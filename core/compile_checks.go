package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ RawConfigLoader = staticRawConfigLoader{}
	_ OptionsResolver = GoOptionsResolver{}

	_ RefreshLocker           = (*MemoryRefreshLocker)(nil)
	_ LockHandle              = (*memoryLockHandle)(nil)
	_ RefreshBackoffScheduler = ExponentialBackoffScheduler{}
	_ SleepFunc               = WaitWithContext

	_ MetricsRecorder = NopMetricsRecorder{}
	_ Logger          = glog.Nop()
	_ LoggerProvider  = glog.ProviderFromLogger(glog.Nop())
)
