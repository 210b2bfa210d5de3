package app

import (
	"log/slog"
	"net"
	"strconv"
)

// AccessURL は起動時に案内するアクセス先。
type AccessURL struct {
	Label string // local, loopback, またはネットワークインターフェース名
	URL   string
}

// InterfaceAddr はネットワークインターフェースのアドレス。
type InterfaceAddr struct {
	Name     string
	IP       net.IP
	Internal bool
}

// AccessURLs はリッスンアドレスから利用可能なURLの一覧を組み立てる。
// ローカルとループバックを常に含め、内部インターフェース以外のアドレスを続ける。
// IPv6アドレスは角括弧で囲む。
func AccessURLs(port int, addrs []InterfaceAddr) []AccessURL {
	p := strconv.Itoa(port)
	urls := []AccessURL{
		{Label: "local", URL: "http://" + net.JoinHostPort("localhost", p)},
		{Label: "loopback", URL: "http://" + net.JoinHostPort("127.0.0.1", p)},
	}
	for _, a := range addrs {
		if a.Internal || a.IP == nil || a.IP.IsLoopback() {
			continue
		}
		urls = append(urls, AccessURL{
			Label: a.Name,
			URL:   "http://" + net.JoinHostPort(a.IP.String(), p),
		})
	}
	return urls
}

// interfaceAddrs はホストのネットワークインターフェースのアドレスを列挙する。
// 取得に失敗したインターフェースは無視する。
func interfaceAddrs() []InterfaceAddr {
	ifaces, err := net.Interfaces()
	if err != nil {
		slog.Warn("failed to list network interfaces", slog.String("error", err.Error()))
		return nil
	}

	var out []InterfaceAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		internal := iface.Flags&net.FlagLoopback != 0
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			// リンクローカルアドレスはゾーン指定なしでは到達できないため除外する
			if ipNet.IP.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, InterfaceAddr{Name: iface.Name, IP: ipNet.IP, Internal: internal})
		}
	}
	return out
}

// logAccessHints はリッスン中のアドレスと利用可能なURLをログに出力する。
// パスワードなどの認証情報は出力しない。
func logAccessHints(logger *slog.Logger, addr net.Addr, adminUser string) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		logger.Info("API server listening", slog.String("addr", addr.String()))
		return
	}

	logger.Info("API server listening",
		slog.String("addr", tcpAddr.String()),
		slog.String("main_url", "http://"+tcpAddr.String()),
	)

	for _, u := range AccessURLs(tcpAddr.Port, interfaceAddrs()) {
		logger.Info("access url", slog.String("label", u.Label), slog.String("url", u.URL))
	}

	if adminUser != "" {
		logger.Info("default account", slog.String("username", adminUser))
	}
}
