package adb

import (
	"time"

	"github.com/spf13/viper"
)

// viper配置键
const (
	KeyHost    = "adb.host"
	KeySerial  = "adb.serial"
	KeyPort    = "adb.port"
	KeyBin     = "adb.bin"
	KeyTimeout = "adb.timeout"
)

// Options 客户端配置选项
type Options struct {
	Host    string        // ADB服务器地址
	Port    int           // ADB服务器端口
	Serial  string        // 当前目标设备序列号
	Bin     string        // ADB可执行文件路径
	Timeout time.Duration // 单条命令的I/O期限，0表示不设限
}

func init() {
	viper.SetDefault(KeyHost, "localhost")
	viper.SetDefault(KeyPort, 5037)
	viper.SetDefault(KeySerial, "")
	viper.SetDefault(KeyBin, "adb")
	viper.SetDefault(KeyTimeout, time.Duration(0))

	// 与adb命令行工具一致的环境变量
	viper.BindEnv(KeyHost, "ANDROID_ADB_SERVER_HOST")
	viper.BindEnv(KeyPort, "ANDROID_ADB_SERVER_PORT")
	viper.BindEnv(KeySerial, "ANDROID_SERIAL")
}

// OptionsFromViper 在调用时读取环境配置
func OptionsFromViper() *Options {
	return &Options{
		Host:    viper.GetString(KeyHost),
		Port:    viper.GetInt(KeyPort),
		Serial:  viper.GetString(KeySerial),
		Bin:     viper.GetString(KeyBin),
		Timeout: viper.GetDuration(KeyTimeout),
	}
}

// withDefaults 填充零值字段
func (o *Options) withDefaults() *Options {
	if o == nil {
		return OptionsFromViper()
	}
	out := *o
	if out.Host == "" {
		out.Host = viper.GetString(KeyHost)
	}
	if out.Port == 0 {
		out.Port = viper.GetInt(KeyPort)
	}
	if out.Bin == "" {
		out.Bin = viper.GetString(KeyBin)
	}
	if out.Timeout == 0 {
		out.Timeout = viper.GetDuration(KeyTimeout)
	}
	return &out
}

// device 返回目标设备序列号，空时回退到环境配置
func (o *Options) device(serial string) string {
	if serial != "" {
		return serial
	}
	if o.Serial != "" {
		return o.Serial
	}
	return viper.GetString(KeySerial)
}
