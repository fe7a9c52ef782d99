package main

import (
	"flag"
	"strings"

	"github.com/topicquests/tqos-asr-api/internal/queue"
	"github.com/topicquests/tqos-asr-api/internal/util"
	"github.com/topicquests/tqos-asr-api/pkg/logger"
	"github.com/topicquests/tqos-asr-api/pkg/logger/console"
)

// publish queues a single merge request, for operators and scripts that do
// not speak AMQP.
//
//	publish -target wg.a -source wg.b
//	publish -old T1 -new T2 -grams wg.a,wg.b
func main() {
	util.LoadEnv()

	target := flag.String("target", "", "canonical gram id of a gram merge")
	source := flag.String("source", "", "gram id merged into -target")
	oldLocator := flag.String("old", "", "topic locator merged away")
	newLocator := flag.String("new", "", "topic locator that replaces -old")
	grams := flag.String("grams", "", "comma separated gram ids that reference -old")
	flag.Parse()

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	}))

	gramMerge := *target != "" || *source != ""
	topicMerge := *oldLocator != "" || *newLocator != "" || *grams != ""
	if gramMerge == topicMerge {
		logger.Fatal("Give either -target/-source or -old/-new/-grams")
	}

	conn := queue.Init()
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	if gramMerge {
		msg := queue.GramMergeMessage{TargetID: *target, SourceID: *source}
		if err := queue.PublishGramMerge(ch, msg); err != nil {
			logger.Fatal("Failed to publish gram merge", "err", err)
		}
		logger.Info("Queued gram merge", "target", msg.TargetID, "source", msg.SourceID)
		return
	}

	msg := queue.TopicMergeMessage{OldLocator: *oldLocator, NewLocator: *newLocator}
	for _, id := range strings.Split(*grams, ",") {
		if id = strings.TrimSpace(id); id != "" {
			msg.GramIDs = append(msg.GramIDs, id)
		}
	}
	if err := queue.PublishTopicMerge(ch, msg); err != nil {
		logger.Fatal("Failed to publish topic merge", "err", err)
	}
	logger.Info("Queued topic merge", "old", msg.OldLocator, "new", msg.NewLocator, "grams", len(msg.GramIDs))
}
