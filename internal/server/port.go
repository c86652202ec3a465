package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// FindAvailablePort 从 start 开始依次尝试绑定 host 上的端口，最多 attempts 次，
// 每次失败后等待 wait 让端口释放。
func FindAvailablePort(host string, start, attempts int, wait time.Duration) (int, error) {
	port := start
	for attempt := 0; attempt < attempts; attempt++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			_ = ln.Close()
			log.Info().Int("port", port).Msg("port is available")
			return port, nil
		}
		log.Warn().Err(err).Int("port", port).Msg("port is in use")
		port++
		if attempt < attempts-1 {
			time.Sleep(wait)
		}
	}
	return 0, fmt.Errorf("no available port in %d attempts starting at %d", attempts, start)
}
