package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"growhub-backend/internal/model"
)

// EventKind names the state changes subscribers can be told about.
type EventKind string

const (
	EventDeviceOnline  EventKind = "device_online"
	EventDeviceOffline EventKind = "device_offline"
	EventPlantPhase    EventKind = "plant_phase"
)

// Job is one notification task. Device events carry a device id; plant
// phase events carry the plant id and the phase just entered.
type Job struct {
	DeviceID int64
	PlantID  int64
	Phase    string
	Kind     EventKind
}

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender backed by the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans device events out to the push subscriptions watching the
// device.
type WorkerPool struct {
	size    int
	jobs    chan Job
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Notification worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			if job.Kind == EventPlantPhase {
				wp.notifyForPlant(ctx, job)
			} else {
				wp.notifyForDevice(ctx, job)
			}
		case <-ctx.Done():
			log.Printf("Notification worker %d shutting down", id)
			return
		}
	}
}

// DeviceOnline queues an online notification. Implements ingest.Notifier.
func (wp *WorkerPool) DeviceOnline(deviceID int64) {
	wp.dispatch(Job{DeviceID: deviceID, Kind: EventDeviceOnline})
}

// DeviceOffline queues an offline notification. Implements ingest.Notifier.
func (wp *WorkerPool) DeviceOffline(deviceID int64) {
	wp.dispatch(Job{DeviceID: deviceID, Kind: EventDeviceOffline})
}

// PlantPhase queues a phase-change notification for the subscribers of
// every device currently assigned to the plant.
func (wp *WorkerPool) PlantPhase(plantID int64, phase string) {
	wp.dispatch(Job{PlantID: plantID, Phase: phase, Kind: EventPlantPhase})
}

// dispatch hands a job to the pool without ever blocking the caller; a full
// queue drops the notification.
func (wp *WorkerPool) dispatch(job Job) {
	select {
	case wp.jobs <- job:
	default:
		log.Printf("Notification queue full, dropping %s for device %d", job.Kind, job.DeviceID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

func (wp *WorkerPool) notifyForDevice(ctx context.Context, job Job) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_device_mapping sdm ON sdm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sdm.device_id = ?", job.DeviceID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for device %d: %v", job.DeviceID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	var dev model.Device
	deviceLabel := fmt.Sprintf("%d", job.DeviceID)
	if err := wp.db.WithContext(ctx).Select("name", "device_uid").First(&dev, job.DeviceID).Error; err != nil {
		log.Printf("Error fetching device %d: %v", job.DeviceID, err)
	} else if dev.Name != "" {
		deviceLabel = dev.Name
	}

	payload, err := json.Marshal(map[string]string{
		"event":  string(job.Kind),
		"device": deviceLabel,
	})
	if err != nil {
		log.Printf("Error encoding notification payload: %v", err)
		return
	}

	log.Printf("Sending %d notifications for device %d (%s)", len(subscriptions), job.DeviceID, job.Kind)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) notifyForPlant(ctx context.Context, job Job) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_device_mapping sdm ON sdm.push_subscription_endpoint = push_subscriptions.endpoint").
		Joins("JOIN device_assignments da ON da.device_id = sdm.device_id AND da.removed_at IS NULL").
		Where("da.plant_id = ?", job.PlantID).
		Distinct().
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for plant %d: %v", job.PlantID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	var plant model.Plant
	plantLabel := fmt.Sprintf("%d", job.PlantID)
	if err := wp.db.WithContext(ctx).Select("name").First(&plant, job.PlantID).Error; err != nil {
		log.Printf("Error fetching plant %d: %v", job.PlantID, err)
	} else if plant.Name != "" {
		plantLabel = plant.Name
	}

	payload, err := json.Marshal(map[string]string{
		"event": string(job.Kind),
		"plant": plantLabel,
		"phase": job.Phase,
	})
	if err != nil {
		log.Printf("Error encoding notification payload: %v", err)
		return
	}

	log.Printf("Sending %d notifications for plant %d (phase %s)", len(subscriptions), job.PlantID, job.Phase)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
