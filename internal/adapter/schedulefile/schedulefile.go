// Package schedulefile загружает объявление задач и флагов мониторинга из YAML.
//
// Пример файла:
//
//	monitor_all: false
//	tasks:
//	  - id: reports
//	    schedule: "0 3 * * *"
//	    command: php artisan reports:generate --weekly
//	    monitor: true
//	    grace_period: 10m
//	  - schedule: "@every 5m"
//	    command: /usr/local/bin/healthcheck.sh
//	    description: Health check
//	    overlap: skip
//	    timeout: 1m
//	    skip_monitor: true
package schedulefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"cronradar/internal/adapter/scheduler"
	"cronradar/internal/monitor"
	"cronradar/internal/shared"
)

// File содержимое файла расписания
type File struct {
	// MonitorAll включает мониторинг всех задач без skip_monitor
	MonitorAll bool   `yaml:"monitor_all"`
	Tasks      []Task `yaml:"tasks" validate:"dive"`
}

// Task объявление одной задачи
type Task struct {
	ID          string `yaml:"id,omitempty"`
	Schedule    string `yaml:"schedule" validate:"required"`
	Command     string `yaml:"command" validate:"required"`
	Description string `yaml:"description,omitempty"`
	Timeout     string `yaml:"timeout,omitempty"`
	Overlap     string `yaml:"overlap,omitempty" validate:"omitempty,oneof=allow skip delay"`

	// Monitor включает мониторинг задачи. Если поле не задано, key или
	// grace_period тоже включают его; явный false выключает всегда.
	Monitor     *bool  `yaml:"monitor,omitempty"`
	Key         string `yaml:"key,omitempty"`
	GracePeriod string `yaml:"grace_period,omitempty"`
	SkipMonitor bool   `yaml:"skip_monitor,omitempty"`
}

// Load читает и проверяет файл расписания
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schedule file: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("schedule file %s: %w", path, err)
	}
	return f, nil
}

// Parse декодирует YAML; неизвестные поля считаются ошибкой
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, shared.MarkKind(fmt.Errorf("yaml: %w", err), shared.KindValidation)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate проверяет поля задач и длительности
func (f *File) Validate() error {
	var errs []error
	if err := validator.New().Struct(f); err != nil {
		errs = append(errs, err)
	}
	for i, t := range f.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		if strings.ContainsFunc(t.ID, unicode.IsSpace) {
			errs = append(errs, fmt.Errorf("%s.id: %q contains whitespace", path, t.ID))
		}
		if _, err := parseDuration(path+".timeout", t.Timeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := parseDuration(path+".grace_period", t.GracePeriod); err != nil {
			errs = append(errs, err)
		}
		if t.Key != "" && monitor.NormalizeKey(t.Key) == "" {
			errs = append(errs, fmt.Errorf("%s.key: %q has no usable characters", path, t.Key))
		}
	}
	if len(errs) > 0 {
		return shared.MarkKind(errors.Join(errs...), shared.KindValidation)
	}
	return nil
}

// Apply регистрирует задачи в планировщике и флаги мониторинга в реестре.
func (f *File) Apply(s *scheduler.Scheduler, reg *monitor.Registry) ([]*scheduler.Task, error) {
	if f.MonitorAll {
		reg.MonitorAll()
	}

	out := make([]*scheduler.Task, 0, len(f.Tasks))
	for i, spec := range f.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)

		timeout, err := parseDuration(path+".timeout", spec.Timeout)
		if err != nil {
			return out, shared.MarkKind(err, shared.KindValidation)
		}
		overlap, err := scheduler.ParseOverlapPolicy(spec.Overlap)
		if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}

		task, err := s.AddCommand(spec.Schedule, spec.Command, scheduler.JobOptions{
			ID:            spec.ID,
			Description:   spec.Description,
			Timeout:       timeout,
			OverlapPolicy: overlap,
		})
		if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, task)

		if spec.optIn() {
			grace, err := parseDuration(path+".grace_period", spec.GracePeriod)
			if err != nil {
				return out, shared.MarkKind(err, shared.KindValidation)
			}
			reg.Monitor(task.ID(), monitor.WithKey(spec.Key), monitor.WithGracePeriod(grace))
		}
		if spec.SkipMonitor {
			reg.SkipMonitor(task.ID())
		}
	}
	return out, nil
}

func (t Task) optIn() bool {
	if t.Monitor != nil {
		return *t.Monitor
	}
	return t.Key != "" || t.GracePeriod != ""
}

// parseDuration принимает длительность Go ("90s", "5m") или целое число секунд.
func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("%s: duration must be >= 0", path)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
