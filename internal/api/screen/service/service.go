package screenService

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"PaperDetection/internal/api/screen"
	"PaperDetection/internal/capture"
	"PaperDetection/internal/entity"
	"PaperDetection/internal/overlay"
	screenCore "PaperDetection/internal/screen"
	"PaperDetection/pkg/camera"
	"PaperDetection/pkg/detector"
	"PaperDetection/pkg/redis"
	"PaperDetection/pkg/utils"
)

const (
	defaultViewTTL    = time.Minute
	defaultMaxScreens = 16
)

type IScreenService interface {
	Mount(ctx context.Context, req screen.CreateScreenRequest) (screenCore.View, error)
	List(ctx context.Context) []screen.ScreenSummary
	View(ctx context.Context, id string) (screenCore.View, error)
	Toggle(ctx context.Context, id string) (screenCore.View, error)
	Still(ctx context.Context, id string) ([]byte, error)
	StillOverlay(ctx context.Context, id string) ([]byte, error)
	Subscribe(id string) (<-chan screenCore.View, func(), error)
	Unmount(ctx context.Context, id string) error
	Shutdown()
}

type Config struct {
	ModelInput entity.Size
	Period     time.Duration
	Quality    float64
	Policy     screenCore.OrderPolicy
	ViewTTL    time.Duration
	MaxScreens int
	Clock      clock.Clock
}

// LoadConfig reads the capture settings from the environment. Unset values
// keep their defaults; malformed values are an error.
func LoadConfig() (Config, error) {
	cfg := Config{
		ModelInput: overlay.DefaultModelInput,
		Period:     capture.DefaultPeriod,
		Quality:    0.5,
		Policy:     screenCore.LatestIssued,
		ViewTTL:    defaultViewTTL,
		MaxScreens: defaultMaxScreens,
	}

	if raw := os.Getenv("CAPTURE_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("CAPTURE_INTERVAL: %w", err)
		}
		cfg.Period = d
	}

	if raw := os.Getenv("CAPTURE_QUALITY"); raw != "" {
		q, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("CAPTURE_QUALITY: %w", err)
		}
		if q <= 0 || q > 1 {
			return Config{}, fmt.Errorf("CAPTURE_QUALITY must be in (0, 1], got %v", q)
		}
		cfg.Quality = q
	}

	for key, dst := range map[string]*float64{
		"MODEL_INPUT_WIDTH":  &cfg.ModelInput.Width,
		"MODEL_INPUT_HEIGHT": &cfg.ModelInput.Height,
	} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return Config{}, fmt.Errorf("%s must be a positive number, got %q", key, raw)
		}
		*dst = v
	}

	policy, err := screenCore.ParsePolicy(os.Getenv("SCREEN_ORDER_POLICY"))
	if err != nil {
		return Config{}, err
	}
	cfg.Policy = policy

	if raw := os.Getenv("SCREEN_VIEW_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("SCREEN_VIEW_TTL: %w", err)
		}
		cfg.ViewTTL = d
	}

	if raw := os.Getenv("MAX_SCREENS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("MAX_SCREENS must be a positive integer, got %q", raw)
		}
		cfg.MaxScreens = n
	}

	return cfg, nil
}

type screenService struct {
	log      *logrus.Logger
	cfg      Config
	camera   camera.Camera
	detector detector.IDetector
	redis    redis.IRedis
	utils    utils.IUtils

	mu        sync.RWMutex
	screens   map[string]*screenCore.Screen
	published map[string]chan struct{}
	fanOut    sync.WaitGroup
}

func NewScreenService(
	log *logrus.Logger,
	cfg Config,
	cam camera.Camera,
	det detector.IDetector,
	rdb redis.IRedis,
	u utils.IUtils,
) IScreenService {
	if cfg.ModelInput.Width <= 0 || cfg.ModelInput.Height <= 0 {
		cfg.ModelInput = overlay.DefaultModelInput
	}
	if cfg.ViewTTL <= 0 {
		cfg.ViewTTL = defaultViewTTL
	}
	if cfg.MaxScreens <= 0 {
		cfg.MaxScreens = defaultMaxScreens
	}

	return &screenService{
		log:      log,
		cfg:      cfg,
		camera:   cam,
		detector: det,
		redis:    rdb,
		utils:    u,
		screens:   make(map[string]*screenCore.Screen),
		published: make(map[string]chan struct{}),
	}
}
