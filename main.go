package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/balwinderxcode-ai/activity-tracker/internal/analytics"
	"github.com/balwinderxcode-ai/activity-tracker/internal/config"
	"github.com/balwinderxcode-ai/activity-tracker/internal/engine"
	"github.com/balwinderxcode-ai/activity-tracker/internal/httpserver"
	"github.com/balwinderxcode-ai/activity-tracker/internal/logger"
	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
	"github.com/balwinderxcode-ai/activity-tracker/internal/store"
	"github.com/balwinderxcode-ai/activity-tracker/pkg/dashboard"
	"github.com/balwinderxcode-ai/activity-tracker/pkg/realism"
)

func main() {
	var (
		mode     = flag.String("mode", "demo", "运行模式: demo, run, replay, server")
		addr     = flag.String("addr", ":8080", "服务器地址")
		duration = flag.Duration("duration", 0, "模拟时长，0表示使用配置文件的值")
		seed     = flag.Int64("seed", 0, "随机种子，0表示随机")
		pacing   = flag.String("pacing", "", "节奏模式: realtime, fastforward，默认使用配置文件的值")
		file     = flag.String("file", "", "回放模式的会话JSON文件")
		persist  = flag.Bool("persist", false, "是否把结果写入PostgreSQL")
		report   = flag.Bool("report", true, "运行结束后打印真实度报告")
	)
	flag.Parse()

	logger.InitLogger()

	switch *mode {
	case "demo":
		runDemo()
	case "run":
		runSimulation(*duration, *seed, *pacing, *persist, *report)
	case "replay":
		runReplay(*file)
	case "server":
		runServer(*addr)
	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runDemo 运行演示模式
func runDemo() {
	fmt.Println("🚀 activity-tracker - 人类行为活动模拟与会话分析引擎")
	fmt.Println("=================================================")
	fmt.Println()

	fmt.Println("📋 项目特性:")
	fmt.Println("  ✅ 可配置时间模型(均匀/正态/对数正态分布)")
	fmt.Println("  ✅ 会话状态机(idle/active/paused/ended)")
	fmt.Println("  ✅ 固定种子下输出完全可复现")
	fmt.Println("  ✅ 模拟时钟支持实时与快进两种节奏")
	fmt.Println("  ✅ 真实度评分与配置建议")
	fmt.Println("  ✅ 会话回放与PostgreSQL持久化")
	fmt.Println()

	fmt.Println("🔧 快速开始:")
	fmt.Println("  # 快进模式跑一次8小时模拟")
	fmt.Println("  go run main.go -mode=run -duration=8h -seed=42")
	fmt.Println()
	fmt.Println("  # 回放一个已导出的会话文件")
	fmt.Println("  go run main.go -mode=replay -file=session.json")
	fmt.Println()
	fmt.Println("  # 启动控制API与仪表板")
	fmt.Println("  go run main.go -mode=server -addr=:8080")
	fmt.Println()

	fmt.Println("📚 更多信息:")
	fmt.Println("  配置文件: configs/simulator.yaml")
	fmt.Println("  仪表板:   http://localhost:8080/dashboard")
}

// baseConfig 加载配置并套用命令行覆盖
func baseConfig(duration time.Duration, seed int64, pacing string) (*config.SimulationConfig, error) {
	cfg, err := config.LoadSimulatorConfig()
	if err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	if duration > 0 {
		cfg.RunDuration = duration
	}
	if seed != 0 {
		cfg.RandomSeed = &seed
	}
	if pacing != "" {
		cfg.Pacing.Mode = config.PacingMode(pacing)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runSimulation 跑一次完整模拟并输出汇总
func runSimulation(duration time.Duration, seed int64, pacing string, persist, report bool) {
	cfg, err := baseConfig(duration, seed, pacing)
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	fmt.Printf("🎬 开始模拟: duration=%s pacing=%s\n", cfg.RunDuration, cfg.Pacing.Mode)

	run, err := engine.Start(cfg)
	if err != nil {
		log.Fatalf("启动失败: %v", err)
	}

	// 实时节奏下允许Ctrl-C优雅停止
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			fmt.Println("\n🔄 收到停止信号，正在收尾...")
			run.Stop()
		case <-run.Done():
		}
	}()

	// 运行期间周期性输出进度
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s := run.CurrentSummary()
				fmt.Printf("⏱️  进度: %d 个会话已定稿, %d 个事件\n",
					s.SessionCount, s.TotalEvents)
			case <-run.Done():
				return
			}
		}
	}()

	summary, err := run.Wait()
	if err != nil {
		log.Fatalf("模拟失败: %v", err)
	}

	data, err := summary.ExportJSON()
	if err != nil {
		log.Fatalf("汇总序列化失败: %v", err)
	}
	fmt.Println(string(data))

	if report {
		printReport(realism.Analyze(summary))
	}

	if persist {
		persistRun(run, summary)
	}
}

// printReport 打印真实度报告
func printReport(r *realism.Report) {
	fmt.Printf("\n📊 真实度报告: %.1f分 (%s)\n", r.Score, r.Grade)
	for _, issue := range r.Issues {
		fmt.Printf("  ⚠️  [%s] %s: %s\n", issue.Severity, issue.Title, issue.Description)
	}
	for _, s := range r.Suggestions {
		fmt.Printf("  💡 %s: %s\n", s.Title, s.Description)
	}
	if len(r.Issues) == 0 {
		fmt.Println("  ✅ 所有指标均在自然区间内")
	}
}

// persistRun 把定稿会话与运行汇总写入PostgreSQL
func persistRun(run *engine.Run, summary *analytics.RunSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := store.Connect(ctx, store.DefaultConfig())
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("建表失败: %v", err)
	}

	byID := make(map[string]*analytics.SessionSummary, len(summary.Sessions))
	for _, s := range summary.Sessions {
		byID[s.SessionID] = s
	}
	for _, sess := range run.Sessions() {
		sum, ok := byID[sess.ID]
		if !ok {
			continue
		}
		if err := st.SaveSession(ctx, run.ID, sess, sum); err != nil {
			log.Fatalf("会话写入失败: %v", err)
		}
	}
	if err := st.SaveRunSummary(ctx, summary); err != nil {
		log.Fatalf("汇总写入失败: %v", err)
	}
	fmt.Printf("💾 已持久化 %d 个会话\n", summary.SessionCount)
}

// runReplay 回放一个会话文件并重新计算统计
func runReplay(file string) {
	if file == "" {
		log.Fatal("回放模式需要 -file 参数")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		log.Fatalf("读取会话文件失败: %v", err)
	}
	sess, err := session.ImportJSON(data)
	if err != nil {
		log.Fatalf("解析会话失败: %v", err)
	}

	fmt.Printf("🎬 回放会话 %s: %d 个事件\n", sess.ID, len(sess.Events))

	agg := analytics.NewAggregator("replay_" + sess.ID)
	if err := agg.Open(sess.ID, sess.StartTime); err != nil {
		log.Fatalf("回放失败: %v", err)
	}

	replayer := session.NewReplayer(sess, &session.ReplayConfig{Speed: session.SpeedInstant})
	replayer.AddCallback(func(ev *session.ReplayEvent) error {
		return agg.Record(sess.ID, ev.OriginalEvent)
	})
	if err := replayer.Play(); err != nil {
		log.Fatalf("回放失败: %v", err)
	}
	replayer.Wait()

	end := sess.LastEventTime()
	if sess.EndTime != nil {
		end = *sess.EndTime
	}
	if _, err := agg.Finalize(sess.ID, end); err != nil {
		log.Fatalf("回放定稿失败: %v", err)
	}

	out, err := agg.RunSummary().ExportJSON()
	if err != nil {
		log.Fatalf("汇总序列化失败: %v", err)
	}
	fmt.Println(string(out))

	stats := replayer.GetStats()
	fmt.Printf("✅ 回放完成: %d/%d 个事件, 耗时 %v\n",
		stats.ReplayedEvents, stats.TotalEvents, stats.Duration)
}

// runServer 启动控制API与仪表板
func runServer(addr string) {
	fmt.Printf("🖥️  启动模拟器控制服务 %s\n", addr)

	cfg, err := config.LoadSimulatorConfig()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	logger.InitGlobalLogger()

	server := httpserver.NewAPIServer(addr, cfg, logger.GlobalLogger)

	dash := dashboard.NewDashboard(server)
	dash.RegisterRoutes(server.Router())

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("启动服务器失败: %v", err)
		}
	}()

	fmt.Printf("✅ 服务已启动，监听地址: %s\n", addr)
	fmt.Printf("📊 仪表板: http://localhost%s/dashboard\n", addr)
	fmt.Printf("🔌 控制API: http://localhost%s/api/v1/runs\n", addr)

	// 优雅关闭
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	fmt.Println("\n🔄 正在关闭服务...")

	if err := server.Stop(); err != nil {
		log.Printf("服务关闭错误: %v", err)
	}

	fmt.Println("✅ 服务已关闭")
}
