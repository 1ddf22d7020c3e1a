package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"eduoj/internal/common/mq"
	"eduoj/internal/contest/model"
	appErr "eduoj/pkg/errors"
)

const headerAttempt = "x-attempt"

// TransitionPublisher announces contest phase changes.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, event model.TransitionEvent) error
}

// JobPublisher hands judge jobs to the grading workers.
type JobPublisher interface {
	PublishJob(ctx context.Context, job model.JudgeJob) error
}

// MQEventPublisher publishes contest events and judge jobs to a message queue.
type MQEventPublisher struct {
	producer        mq.Producer
	transitionTopic string
	jobTopic        string
}

// NewMQEventPublisher creates a publisher over producer.
func NewMQEventPublisher(producer mq.Producer, transitionTopic, jobTopic string) *MQEventPublisher {
	return &MQEventPublisher{producer: producer, transitionTopic: transitionTopic, jobTopic: jobTopic}
}

// PublishTransition publishes a contest transition keyed by contest id so
// events of one contest stay ordered.
func (p *MQEventPublisher) PublishTransition(ctx context.Context, event model.TransitionEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if p.transitionTopic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("transition topic is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transition event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = fmt.Sprintf("contest-%d-%s", event.ContestID, event.To)
	message.Key = strconv.FormatInt(event.ContestID, 10)
	message.SetHeader("x-event-type", event.Type)
	if err := p.producer.Publish(ctx, p.transitionTopic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish transition event failed")
	}
	return nil
}

// PublishJob publishes a judge job keyed by submission id.
func (p *MQEventPublisher) PublishJob(ctx context.Context, job model.JudgeJob) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("job publisher is not configured")
	}
	if p.jobTopic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("job topic is required")
	}
	if job.SubmissionID <= 0 {
		return appErr.ValidationError("submission_id", "required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal judge job failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = fmt.Sprintf("judge-%d-%d", job.SubmissionID, job.Attempt)
	message.Key = strconv.FormatInt(job.SubmissionID, 10)
	message.SetHeader(headerAttempt, strconv.Itoa(job.Attempt))
	if err := p.producer.Publish(ctx, p.jobTopic, message); err != nil {
		return appErr.Wrapf(err, appErr.JudgeQueueFull, "publish judge job failed")
	}
	return nil
}
