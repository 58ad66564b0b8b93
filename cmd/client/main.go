// 終端機版對戰用戶端
//
// 按 c 建立房間、j 輸入房間碼加入；對局中以 w/s 或上下鍵移動球拍，q 離開
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gdamore/tcell"

	"github.com/koopa0/system-design/14-realtime-pong/internal/client"
	"github.com/koopa0/system-design/14-realtime-pong/pkg/logger"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/ws", "伺服器 WebSocket 位址")
		room     = flag.String("room", "", "啟動後直接加入的房間碼")
		logFile  = flag.String("log", "pong-client.log", "日誌檔（終端機畫面由遊戲使用）")
		logLevel = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		attempts = flag.Int("reconnect", client.DefaultMaxAttempts, "斷線後最多重連次數")
	)
	flag.Parse()

	log, closer, err := logger.New(logger.Options{
		Level:      *logLevel,
		Output:     *logFile,
		MaxSizeMB:  10,
		MaxBackups: 1,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))

	u := newUI(screen, *url, client.Options{MaxAttempts: *attempts}, log)
	if *room != "" {
		u.join(*room)
	}
	u.run()
	screen.Fini()
}
