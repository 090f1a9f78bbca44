package emulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/znsio/pubsub-relay-go/internal/logger"
)

var ErrNotReachable = errors.New("emulator not reachable")

// Provision creates the project's missing topics and subscriptions on the
// emulator at host. Existing resources are left untouched.
func Provision(ctx context.Context, host string, project Project) error {
	client, err := pubsub.NewClient(ctx, project.ID,
		option.WithEndpoint(NormalizeHost(host)),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return fmt.Errorf("error creating pubsub client for %s: %w", project.ID, err)
	}
	defer client.Close()

	log := logger.WithFields(logrus.Fields{"component": "emulator", "project": project.ID})

	for _, spec := range project.Topics {
		topic := client.Topic(spec.Name)
		exists, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("error checking topic %s: %w", spec.Name, err)
		}
		if !exists {
			if topic, err = client.CreateTopic(ctx, spec.Name); err != nil {
				return fmt.Errorf("error creating topic %s: %w", spec.Name, err)
			}
			log.WithField("topic", spec.Name).Info("created topic")
		}

		for _, subName := range spec.Subscriptions {
			sub := client.Subscription(subName)
			exists, err := sub.Exists(ctx)
			if err != nil {
				return fmt.Errorf("error checking subscription %s: %w", subName, err)
			}
			if exists {
				continue
			}
			_, err = client.CreateSubscription(ctx, subName, pubsub.SubscriptionConfig{
				Topic:       topic,
				AckDeadline: 10 * time.Second,
			})
			if err != nil {
				return fmt.Errorf("error creating subscription %s: %w", subName, err)
			}
			log.WithFields(logrus.Fields{"topic": spec.Name, "subscription": subName}).Info("created subscription")
		}
	}
	return nil
}

// WaitReachable polls the emulator's root endpoint until it answers 200 or
// ctx is done.
func WaitReachable(ctx context.Context, host string) error {
	client := resty.New().SetTimeout(2 * time.Second)
	url := "http://" + NormalizeHost(host) + "/"

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		resp, err := client.R().SetContext(ctx).Get(url)
		if err != nil {
			logger.WithComponent("emulator").Debugf("attempt %d: %v", attempt, err)
			return err
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("unexpected status %s", resp.Status())
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("%w at %s: %v", ErrNotReachable, host, err)
	}
	return nil
}
